// Package main mints HS256 bearer tokens for local development and smoke tests.
// It signs with the secret configured under auth.hs256, so the resulting token is
// accepted by a server running with auth.verifier=hs256 and the same configuration.
//
// Usage:
//
//	mint-token -sub user-123 -email user@example.com -username jdoe
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/identity-sync/identity-sync/internal/auth"
	"github.com/identity-sync/identity-sync/internal/config"
)

func main() {
	sub := flag.String("sub", "", "subject claim (required)")
	email := flag.String("email", "", "email claim")
	username := flag.String("username", "", "preferred_username claim")
	name := flag.String("name", "", "name claim")
	flag.Parse()

	if *sub == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Auth.HS256.Secret == "" {
		log.Fatal("auth.hs256.secret must be set (IDS_AUTH_HS256_SECRET)")
	}

	verifier, err := auth.NewHS256Verifier(&cfg.Auth.HS256, false)
	if err != nil {
		log.Fatalf("Failed to configure signer: %v", err)
	}

	token, err := verifier.Mint(auth.TokenClaims{
		Email:             *email,
		Name:              *name,
		PreferredUsername: *username,
		RegisteredClaims:  jwt.RegisteredClaims{Subject: *sub},
	})
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}
	fmt.Println(token)
}
