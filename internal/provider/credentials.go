package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// CredentialResolver turns a connection's credentials reference into the
// secret material an adapter needs.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// EnvResolver reads credentials from the environment. A reference such as
// "acme/main" is read from PROVIDER_CRED_ACME_MAIN.
type EnvResolver struct {
	Prefix string
}

// NewEnvResolver uses the PROVIDER_CRED_ prefix.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{Prefix: "PROVIDER_CRED_"}
}

// Resolve implements CredentialResolver.
func (e *EnvResolver) Resolve(_ context.Context, ref string) (Credentials, error) {
	key := e.Key(ref)
	token := strings.TrimSpace(os.Getenv(key))
	if token == "" {
		return Credentials{}, fmt.Errorf("%w: no credentials for reference %q", ErrInvalidCredentials, ref)
	}
	return Credentials{Ref: ref, Token: token}, nil
}

// Key returns the environment variable consulted for ref.
func (e *EnvResolver) Key(ref string) string {
	var b strings.Builder
	b.WriteString(e.Prefix)
	for _, r := range strings.ToUpper(ref) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// StaticResolver serves credentials from a fixed map.
type StaticResolver map[string]string

// Resolve implements CredentialResolver.
func (s StaticResolver) Resolve(_ context.Context, ref string) (Credentials, error) {
	token, ok := s[ref]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: no credentials for reference %q", ErrInvalidCredentials, ref)
	}
	return Credentials{Ref: ref, Token: token}, nil
}
