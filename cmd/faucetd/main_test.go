package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"faucet/internal/chain/static"
	"faucet/internal/ssh"
)

const testConfig = `
[store]
partition_size_limit = 1048576
segments = 4
no_sync = true

[faucet]
cooldown_sec = 3600
payout_base = 1000
payout_adjustment = 0.05
fee_threshold = 0.1
decimals = 2
meta_interval = "20ms"

[console]
listen = ""
authorized_keys = "/nonexistent/authorized_keys"

[chain]
fee = 0
[chain.names]
"alice@dev" = "0xABC"

[logging]
level = "debug"
`

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0600))
	return path, filepath.Join(dir, "db")
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestOneShotCommands(t *testing.T) {
	cfgPath, store := writeConfig(t)
	base := []string{"--config", cfgPath, "--store", store}

	out, _, err := run(t, append(base, "payout")...)
	require.NoError(t, err)
	assert.Equal(t, "min 10.0\ncurrent 22.0\nmax 22.0\n", out)

	out, _, err = run(t, append(base, "claim", "alice@dev")...)
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{32}\n$`, out)

	_, _, err = run(t, append(base, "claim", "alice@dev")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooldown is not ended")

	_, _, err = run(t, append(base, "claim", "mallory@dev")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to resolve the name")

	out, _, err = run(t, append(base, "logs")...)
	require.NoError(t, err)
	assert.Contains(t, out, "alice@dev")
	assert.Contains(t, out, "mallory@dev")

	out, _, err = run(t, append(base, "logs", "-n", "1")...)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))

	out, _, err = run(t, append(base, "meta")...)
	require.NoError(t, err)
	assert.Contains(t, out, "PARTITION")
	assert.Regexp(t, `claims\s+1\s`, out)
	assert.Contains(t, out, "2 partitions")
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfgPath, store := writeConfig(t)

	_, stderr, err := run(t, "--config", cfgPath, "--store", store, "--log-format", "json", "claim", "alice@dev")
	require.NoError(t, err)
	assert.Contains(t, stderr, `"msg":"claim paid"`)

	_, _, err = run(t, "--config", cfgPath, "--store", store, "--log-level", "loud", "meta")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestClaimRequiresArgument(t *testing.T) {
	cfgPath, store := writeConfig(t)
	_, _, err := run(t, "--config", cfgPath, "--store", store, "claim")
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfgPath, store := writeConfig(t)
	cmd := newRootCommand()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--config", cfgPath, "--store", store, "serve", "--console-listen", "127.0.0.1:0"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the context ended")
	}

	logs := stderr.String()
	assert.Contains(t, logs, "faucet started")
	assert.Contains(t, logs, "console listening")
	assert.Contains(t, logs, "store meta")
	assert.Contains(t, logs, "shutting down")

	_, err := os.Stat(filepath.Join(filepath.Dir(store), "console", "host_key"))
	assert.NoError(t, err, "serve generates the console host key")
}

type readWriter struct {
	io.Reader
	io.Writer
}

func dispatch(t *testing.T, reg *ssh.CommandRegistry, line string) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	terminal := term.NewTerminal(readWriter{r, w}, "> ")
	reg.Dispatch(context.Background(), line, "op", terminal, nil)
	_ = w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

func TestChainCommands(t *testing.T) {
	chain := static.New(static.Options{FeeThreshold: 0.1, PayoutBase: 1000})
	reg := ssh.NewCommandRegistry()
	registerChainCommands(reg, chain)

	assert.Contains(t, dispatch(t, reg, "/transfers"), "Transfers: (none)")

	assert.Contains(t, dispatch(t, reg, "/fee 500"), "Network fee set to 500")
	ok, err := chain.FeeAcceptable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Contains(t, dispatch(t, reg, "/fee lots"), `Invalid amount "lots"`)
	assert.Contains(t, dispatch(t, reg, "/fee"), "Usage: /fee <amount>")

	tx, err := chain.Send(context.Background(), "0xABC", 42)
	require.NoError(t, err)
	out := dispatch(t, reg, "/transfers")
	assert.Contains(t, out, "Transfers (1)")
	assert.Contains(t, out, tx)
}
