package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestCLI_EnvDefaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("RATE_ADMIN_SUBJECTS", "alice,bob")
	t.Setenv("CONCURRENCY_MAX", "7")
	t.Setenv("RATE_STORE_TIMEOUT", "250ms")

	var cli CLI
	parser, err := kong.New(&cli, kong.Name("gateway"))
	require.NoError(t, err)

	_, err = parser.Parse([]string{})
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, cli.AdminSubjects)
	assert.Equal(t, "localhost:6379", cli.RedisAddr)
	assert.Equal(t, ":8080", cli.Serve.ListenAddr)
	assert.Equal(t, 7, cli.Serve.ConcurrencyMax)
	assert.Equal(t, 250*time.Millisecond, cli.Serve.StoreTimeout)
	assert.Equal(t, "X-User-Id", cli.Serve.KeyHeader)
	assert.True(t, cli.Serve.RateEnabled)
}

func TestServeCmd_Validate(t *testing.T) {
	c := ServeCmd{ConcurrencyMax: 1, DebugRPS: 1, DebugBurst: 1}
	err := c.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPSTREAM_URL")

	c.UpstreamURL = "http://localhost:8081"
	require.NoError(t, c.validate())

	c.ConcurrencyMax = -1
	require.Error(t, c.validate())
}

func TestCLI_InspectArgs(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("gateway"))
	require.NoError(t, err)

	ctx, err := parser.Parse([]string{"inspect", "user-1", "--purpose", "auth", "--entries"})
	require.NoError(t, err)
	assert.Equal(t, "inspect <subject>", ctx.Command())
	assert.Equal(t, "user-1", cli.Inspect.Subject)
	assert.Equal(t, "auth", cli.Inspect.Purpose)
	assert.True(t, cli.Inspect.Entries)
}
