package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

// DevSubject is the subject bound to the dev token. Only the dev token may
// decide on behalf of another actor.
const DevSubject = "dev"

// Claims identifies the caller of the HTTP surface. Subject is recorded as
// the actor of admin decisions made over the API.
type Claims struct {
	Subject string
	Token   string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// TokenAuthenticator accepts a fixed set of bearer tokens, each mapped to the
// subject it authenticates.
type TokenAuthenticator struct {
	Tokens map[string]string
}

// NewTokenAuthenticator builds an authenticator from a dev token and any
// extra token -> subject pairs. Empty tokens are ignored.
func NewTokenAuthenticator(devToken string, tokens map[string]string) *TokenAuthenticator {
	a := &TokenAuthenticator{Tokens: make(map[string]string, len(tokens)+1)}
	for token, subject := range tokens {
		if token != "" {
			a.Tokens[token] = subject
		}
	}
	if devToken != "" {
		a.Tokens[devToken] = DevSubject
	}
	return a
}

func NewAuthenticatorFromEnv() *TokenAuthenticator {
	return NewTokenAuthenticator(os.Getenv("RELIA_BOT_DEV_TOKEN"), nil)
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}
	for token, subject := range a.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(bearer)) == 1 {
			return Claims{Subject: subject, Token: bearer}, nil
		}
	}
	return Claims{}, ErrInvalidToken
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
