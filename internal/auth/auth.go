// Package auth supplies bearer tokens for the realtime session.
//
// A Provider returns the current access token, or "" when the user is not
// signed in. Static, EnvProvider and FileProvider read a token from a fixed
// source; CachingProvider wraps any of them and refreshes ahead of the JWT
// expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider returns the current access token. An empty token with a nil
// error means "not authenticated"; errors are reserved for sources that
// could not be read.
type Provider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Static always returns the same token.
type Static string

// AccessToken returns the token.
func (s Static) AccessToken(ctx context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// EnvProvider reads the token from an environment variable on every call.
type EnvProvider struct {
	Name string
}

// AccessToken returns the variable's value, or "" when it is unset.
func (p EnvProvider) AccessToken(ctx context.Context) (string, error) {
	if p.Name == "" {
		return "", nil
	}
	return strings.TrimSpace(os.Getenv(p.Name)), nil
}

// FileProvider reads the token from a file on every call, so an external
// process can rotate it.
type FileProvider struct {
	Path string
}

// AccessToken returns the file's trimmed contents. A missing file means no
// token.
func (p FileProvider) AccessToken(ctx context.Context) (string, error) {
	if p.Path == "" {
		return "", nil
	}
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
