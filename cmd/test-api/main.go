// Package main is a smoke-test utility that verifies a running identity-sync
// server is reachable. It calls /health and, when IDS_TEST_TOKEN is set, performs
// a login sync with that token and prints the status code and response body of each call.
// It is useful for quick post-deployment checks without curl.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	baseURL := os.Getenv("IDS_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	ok := call(client, http.MethodGet, baseURL+"/health", "")
	if token := os.Getenv("IDS_TEST_TOKEN"); token != "" {
		ok = call(client, http.MethodPost, baseURL+"/api/sync/login", token) && ok
	}
	if !ok {
		os.Exit(1)
	}
}

func call(client *http.Client, method, url, token string) bool {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		return false
	}

	fmt.Printf("%s %s\nStatus: %d\nResponse:\n%s\n\n", method, url, resp.StatusCode, string(body))
	return resp.StatusCode < 300
}
