package identity

import "strings"

// Claims is the verified view of an external token that the core consumes.
// Only Subject is mandatory.
type Claims struct {
	Subject     string
	Email       *string
	DisplayName *string
	Username    *string
}

// Origin describes where a request came from. Both fields are optional.
type Origin struct {
	Address string
	Agent   string
}

func (c *Claims) validate(op string) error {
	if c == nil || strings.TrimSpace(c.Subject) == "" {
		return VerificationFailed(op, ErrMissingSubject)
	}
	return nil
}

// profile derives the local profile fields from the claims. Username comes from the
// email, then an explicit username claim, then the subject. Display name comes from
// the display name claim, then the username claim, then the email, then the subject.
func (c *Claims) profile() (email, username, displayName string) {
	email = deref(c.Email)
	switch {
	case email != "":
		username = email
	case deref(c.Username) != "":
		username = deref(c.Username)
	default:
		username = c.Subject
	}
	displayName = firstNonEmpty(deref(c.DisplayName), deref(c.Username), email, c.Subject)
	return email, username, displayName
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
