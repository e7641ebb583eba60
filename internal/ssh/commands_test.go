package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"faucet/internal/claim"
	"faucet/internal/keys"
	"faucet/internal/ledger"

	"golang.org/x/term"
)

// mockTerminal creates a term.Terminal backed by an in-memory pipe.
// Returns the terminal and a function that reads all written output.
func mockTerminal(t *testing.T) (*term.Terminal, func() string) {
	t.Helper()
	r, w, err := pipePair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	t.Cleanup(func() { _ = w.Close() })
	terminal := term.NewTerminal(readWriter{r, w}, "> ")
	readOutput := func() string {
		_ = w.Close()
		data, _ := io.ReadAll(r)
		return string(data)
	}
	return terminal, readOutput
}

type fakeFaucet struct {
	mu       sync.Mutex
	inputs   []string
	claimErr error
	quote    claim.Quote
	entries  []ledger.LogEntry
	meta     ledger.Meta
}

func (f *fakeFaucet) SubmitClaim(_ context.Context, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.claimErr != nil {
		return "", f.claimErr
	}
	return "0xfeed", nil
}

func (f *fakeFaucet) PayoutRange(context.Context) (claim.Quote, error) { return f.quote, nil }
func (f *fakeFaucet) AuditLog() ([]ledger.LogEntry, error)             { return f.entries, nil }
func (f *fakeFaucet) Meta() (ledger.Meta, error)                       { return f.meta, nil }

func dispatch(t *testing.T, reg *CommandRegistry, f Faucet, line string) (bool, string) {
	t.Helper()
	terminal, readOutput := mockTerminal(t)
	exit := reg.Dispatch(context.Background(), line, "op", terminal, f)
	return exit, readOutput()
}

func TestRegistryDispatchKnown(t *testing.T) {
	f := &fakeFaucet{}
	var called bool
	reg := NewCommandRegistry()
	reg.Register("/ping", Command{
		Help: "test command",
		Handler: func(ctx CommandContext) bool {
			called = true
			if ctx.Faucet != f {
				t.Error("Faucet mismatch")
			}
			if ctx.User != "op" {
				t.Errorf("User: got %q, want op", ctx.User)
			}
			if len(ctx.Args) != 1 || ctx.Args[0] != "pong" {
				t.Errorf("Args: got %v, want [pong]", ctx.Args)
			}
			return false
		},
	})

	exit, _ := dispatch(t, reg, f, "/ping pong")
	if !called {
		t.Error("handler was not called")
	}
	if exit {
		t.Error("expected exit=false")
	}
}

func TestRegistryDispatchUnknown(t *testing.T) {
	reg := NewCommandRegistry()
	exit, out := dispatch(t, reg, &fakeFaucet{}, "/nope")

	if exit {
		t.Error("expected exit=false for unknown command")
	}
	if !strings.Contains(out, "Unknown command: /nope") {
		t.Errorf("expected unknown command message, got: %q", out)
	}
}

func TestRegistryHelpText(t *testing.T) {
	reg := NewCommandRegistry()
	reg.RegisterBuiltins()

	help := reg.HelpText()

	if !strings.Contains(help, "Commands:") {
		t.Error("help should start with 'Commands:'")
	}
	for _, cmd := range []string{"/claim <name@ns>", "/payout", "/logs [n]", "/meta", "/quit", "/help"} {
		if !strings.Contains(help, cmd) {
			t.Errorf("help should contain %q", cmd)
		}
	}

	// /help should be last
	lines := strings.Split(strings.TrimSpace(help), "\n")
	lastLine := lines[len(lines)-1]
	if !strings.Contains(lastLine, "/help") {
		t.Errorf("last line should be /help, got: %q", lastLine)
	}
}

func TestBuiltins(t *testing.T) {
	f := &fakeFaucet{
		quote: claim.Quote{Min: "0.01", Current: "0.015", Max: "0.022"},
		entries: []ledger.LogEntry{
			{Timestamp: 1, Status: keys.StatusSuccess, Input: "first@dev", Result: "0x01"},
			{Timestamp: 2, Status: keys.StatusFailure, Input: "second@dev", Result: "network fee is too high"},
			{Timestamp: 3, Status: keys.StatusSuccess, Input: "third@dev", Result: "0x03"},
		},
		meta: ledger.Meta{PartitionCount: 2, ClaimEntries: 7, LogEntries: 9, LogSegments: 3},
	}
	tests := []struct {
		name     string
		cmd      string
		wantOut  []string
		dontWant []string
		wantExit bool
	}{
		{"claim", "/claim alice@dev", []string{"Sent! tx 0xfeed"}, nil, false},
		{"claim_no_args", "/claim", []string{"Usage: /claim <name@ns>"}, nil, false},
		{"payout", "/payout", []string{"min 0.01, current 0.015, max 0.022"}, nil, false},
		{"logs_default", "/logs", []string{"Audit log (3)", "first@dev", "network fee is too high", "third@dev"}, nil, false},
		{"logs_tail", "/logs 2", []string{"Audit log (2)", "second@dev", "third@dev"}, []string{"first@dev"}, false},
		{"logs_bad_arg", "/logs many", []string{"Usage: /logs [n]"}, nil, false},
		{"meta", "/meta", []string{"2 partitions", "Claims: 7 entries", "Logs: 9 entries", "3 segments"}, nil, false},
		{"quit", "/quit", []string{"Goodbye"}, nil, true},
		{"help", "/help", []string{"Commands:", "/claim"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewCommandRegistry()
			reg.RegisterBuiltins()

			exit, out := dispatch(t, reg, f, tt.cmd)

			if exit != tt.wantExit {
				t.Errorf("exit: got %v, want %v", exit, tt.wantExit)
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in output, got: %q", want, out)
				}
			}
			for _, bad := range tt.dontWant {
				if strings.Contains(out, bad) {
					t.Errorf("unexpected %q in output, got: %q", bad, out)
				}
			}
		})
	}
}

func TestBuiltinClaimRejected(t *testing.T) {
	f := &fakeFaucet{claimErr: fmt.Errorf("cooldown is not ended: %w", claim.ErrCooldownActive)}
	reg := NewCommandRegistry()
	reg.RegisterBuiltins()

	_, out := dispatch(t, reg, f, "/claim alice@dev")
	if !strings.Contains(out, "Claim rejected: cooldown is not ended") {
		t.Errorf("expected rejection, got: %q", out)
	}
	if len(f.inputs) != 1 || f.inputs[0] != "alice@dev" {
		t.Errorf("inputs: got %v", f.inputs)
	}
}

type brokenFaucet struct{ fakeFaucet }

func (*brokenFaucet) AuditLog() ([]ledger.LogEntry, error) { return nil, errors.New("disk gone") }

func TestBuiltinLogsError(t *testing.T) {
	reg := NewCommandRegistry()
	reg.RegisterBuiltins()

	_, out := dispatch(t, reg, &brokenFaucet{}, "/logs")
	if !strings.Contains(out, "Error: disk gone") {
		t.Errorf("expected error output, got: %q", out)
	}
}

func TestRegisterNilHandlerPanics(t *testing.T) {
	reg := NewCommandRegistry()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for nil handler")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "/boom") {
			t.Errorf("unexpected panic value: %v", r)
		}
	}()
	reg.Register("/boom", Command{Help: "should panic"})
}

func TestRegistryOverwrite(t *testing.T) {
	reg := NewCommandRegistry()
	var called int
	reg.Register("/test", Command{Help: "v1", Handler: func(_ CommandContext) bool { called = 1; return false }})
	reg.Register("/test", Command{Help: "v2", Handler: func(_ CommandContext) bool { called = 2; return false }})

	dispatch(t, reg, &fakeFaucet{}, "/test")

	if called != 2 {
		t.Errorf("expected overwritten handler (2), got %d", called)
	}

	// Should not duplicate in order
	help := reg.HelpText()
	if strings.Count(help, "/test") != 1 {
		t.Errorf("/test should appear once in help, got:\n%s", help)
	}
}

func TestRegistryFreeze(t *testing.T) {
	reg := NewCommandRegistry()
	reg.Register("/before", Command{Help: "registered before freeze", Handler: func(_ CommandContext) bool { return false }})

	reg.Freeze()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic when registering on frozen registry")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "frozen") {
			t.Errorf("unexpected panic value: %v", r)
		}
	}()
	reg.Register("/after", Command{Help: "should panic", Handler: func(_ CommandContext) bool { return false }})
}

func TestRegistryConcurrentDispatch(t *testing.T) {
	f := &fakeFaucet{}
	reg := NewCommandRegistry()
	reg.RegisterBuiltins()

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			terminal, readOutput := mockTerminal(t)
			reg.Dispatch(context.Background(), fmt.Sprintf("/claim user%d@dev", id), "op", terminal, f)
			_ = readOutput()
		}(i)
	}

	wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) != goroutines {
		t.Errorf("expected %d claims, got %d", goroutines, len(f.inputs))
	}
}
