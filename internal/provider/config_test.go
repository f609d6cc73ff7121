package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providersYAML = `
providers:
  - name: acme
    kind: http
    http:
      baseURL: https://api.acme.example
      pageSize: 250
      timeout: 5s
      retry:
        maxAttempts: 2
        initialInterval: 100ms
  - name: sandbox
    kind: sandbox
    sandbox:
      pages: 2
      perPage: 3
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(providersYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)

	acme := cfg.Providers[0]
	assert.Equal(t, KindHTTP, acme.Kind)
	assert.Equal(t, 250, acme.HTTP.PageSize)
	assert.Equal(t, 5*time.Second, acme.HTTP.Timeout)
	assert.Equal(t, 100*time.Millisecond, acme.HTTP.Retry.InitialInterval)

	adapters, err := cfg.Build(nil)
	require.NoError(t, err)
	reg := NewRegistry(adapters...)
	assert.Equal(t, []string{"acme", "sandbox"}, reg.Names())
}

func TestConfig_ValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{Providers: []Spec{
		{Name: "", Kind: KindSandbox},
		{Name: "a", Kind: KindHTTP},
		{Name: "a", Kind: KindSandbox},
		{Name: "file", Kind: KindSandbox},
		{Name: "b", Kind: "ftp"},
	}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "baseURL is required")
	assert.Contains(t, msg, `duplicate name "a"`)
	assert.Contains(t, msg, "reserved")
	assert.Contains(t, msg, `unknown kind "ftp"`)
}

func TestLoader_ReloadNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(providersYAML), 0o600))

	l, err := NewLoader(path)
	require.NoError(t, err)
	assert.Len(t, l.Config().Providers, 2)

	var got *Config
	l.OnChange(func(c *Config) { got = c })

	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - name: only\n    kind: sandbox\n"), 0o600))
	_, err = l.Reload()
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "only", got.Providers[0].Name)
	assert.Equal(t, got, l.Config())
}

func TestLoader_BadReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(providersYAML), 0o600))

	l, err := NewLoader(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("providers: [ {name: x, kind: nope} ]"), 0o600))
	_, err = l.Reload()
	require.Error(t, err)
	assert.Len(t, l.Config().Providers, 2)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewSandbox("s1", SandboxSettings{})))
	require.Error(t, reg.Register(NewSandbox("s1", SandboxSettings{})))

	_, err := reg.Get("missing")
	require.ErrorIs(t, err, ErrUnknownProvider)

	reg.Replace([]Adapter{NewSandbox("s2", SandboxSettings{})})
	assert.False(t, reg.Has("s1"))
	assert.True(t, reg.Has("s2"))
}

func TestEnvResolver(t *testing.T) {
	r := NewEnvResolver()
	assert.Equal(t, "PROVIDER_CRED_ACME_MAIN", r.Key("acme/main"))

	t.Setenv("PROVIDER_CRED_ACME_MAIN", " tok ")
	creds, err := r.Resolve(context.Background(), "acme/main")
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.Token)

	_, err = r.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
