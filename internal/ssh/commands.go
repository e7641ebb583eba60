package ssh

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"faucet/internal/claim"
	"faucet/internal/ledger"

	"golang.org/x/term"
)

const defaultLogLines = 10

// Faucet is the set of operations the console exposes.
type Faucet interface {
	SubmitClaim(ctx context.Context, input string) (string, error)
	PayoutRange(ctx context.Context) (claim.Quote, error)
	AuditLog() ([]ledger.LogEntry, error)
	Meta() (ledger.Meta, error)
}

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Ctx      context.Context
	User     string
	Terminal *term.Terminal
	Faucet   Faucet
	Args     []string
}

// CommandHandler processes a console command. Returns true if the session
// should be closed (e.g., /quit).
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered console command.
type Command struct {
	Usage   string // full usage for help (e.g., "/claim <name@ns>"); defaults to command name
	Help    string
	Handler CommandHandler
}

// CommandRegistrar is the interface for registering commands before the server starts.
type CommandRegistrar interface {
	Register(name string, cmd Command)
	RegisterBuiltins()
}

// CommandRegistry maps command names to handlers and produces dynamic help.
// It is safe for concurrent use by multiple SSH sessions.
// Once frozen (via Freeze), no new commands can be registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // insertion order for stable help output
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the registry. The name should include the leading
// slash (e.g., "/quit"). Registering the same name twice overwrites the previous entry.
// Panics if cmd.Handler is nil or if the registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("ssh: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("ssh: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further command registration. Called when the server
// starts listening.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler.
// Returns true if the session should be closed.
func (r *CommandRegistry) Dispatch(ctx context.Context, line, user string, terminal *term.Terminal, f Faucet) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name := parts[0]
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		_, _ = fmt.Fprintf(terminal, "Unknown command: %s (try /help)\r\n", name)
		return false
	}

	sshlog.Debug("command", "user", user, "name", name, "args", len(args))
	return cmd.Handler(CommandContext{
		Ctx:      ctx,
		User:     user,
		Terminal: terminal,
		Faucet:   f,
		Args:     args,
	})
}

// HelpText returns a formatted help string listing all registered commands
// in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-18s %s\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers /claim, /payout, /logs, /meta, /quit and /help.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/claim", Command{
		Usage: "/claim <name@ns>",
		Help:  "send a payout to a registered name",
		Handler: func(ctx CommandContext) bool {
			if len(ctx.Args) != 1 {
				_, _ = fmt.Fprintln(ctx.Terminal, "Usage: /claim <name@ns>")
				return false
			}
			tx, err := ctx.Faucet.SubmitClaim(ctx.Ctx, ctx.Args[0])
			if err != nil {
				sshlog.Info("console claim rejected", "user", ctx.User, "input", ctx.Args[0], "err", err)
				_, _ = fmt.Fprintf(ctx.Terminal, "Claim rejected: %v\r\n", err)
				return false
			}
			_, _ = fmt.Fprintf(ctx.Terminal, "Sent! tx %s\r\n", tx)
			return false
		},
	})

	r.Register("/payout", Command{
		Help: "show min, current and max payout",
		Handler: func(ctx CommandContext) bool {
			q, err := ctx.Faucet.PayoutRange(ctx.Ctx)
			if err != nil {
				_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
				return false
			}
			_, _ = fmt.Fprintf(ctx.Terminal, "Payout: min %s, current %s, max %s\r\n", q.Min, q.Current, q.Max)
			return false
		},
	})

	r.Register("/logs", Command{
		Usage: "/logs [n]",
		Help:  "show the most recent audit entries",
		Handler: func(ctx CommandContext) bool {
			n := defaultLogLines
			if len(ctx.Args) > 0 {
				v, err := strconv.Atoi(ctx.Args[0])
				if err != nil || v <= 0 {
					_, _ = fmt.Fprintln(ctx.Terminal, "Usage: /logs [n]")
					return false
				}
				n = v
			}
			entries, err := ctx.Faucet.AuditLog()
			if err != nil {
				_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
				return false
			}
			if len(entries) > n {
				entries = entries[len(entries)-n:]
			}
			_, _ = fmt.Fprintf(ctx.Terminal, "Audit log (%d):\r\n", len(entries))
			for _, e := range entries {
				_, _ = fmt.Fprintf(ctx.Terminal, "  %s\r\n", e)
			}
			return false
		},
	})

	r.Register("/meta", Command{
		Help: "show store usage",
		Handler: func(ctx CommandContext) bool {
			m, err := ctx.Faucet.Meta()
			if err != nil {
				_, _ = fmt.Fprintf(ctx.Terminal, "Error: %v\r\n", err)
				return false
			}
			_, _ = fmt.Fprintf(ctx.Terminal, "Journal: %d bytes, %d partitions, limit %d\r\n",
				m.JournalDiskSpace, m.PartitionCount, m.PartitionSizeLimit)
			_, _ = fmt.Fprintf(ctx.Terminal, "Claims: %d entries, %d bytes, %d segments, limit %d\r\n",
				m.ClaimEntries, m.ClaimDiskSpace, m.ClaimSegments, m.ClaimSizeLimit)
			_, _ = fmt.Fprintf(ctx.Terminal, "Logs: %d entries, %d bytes, %d segments, limit %d\r\n",
				m.LogEntries, m.LogDiskSpace, m.LogSegments, m.LogSizeLimit)
			return false
		},
	})

	r.Register("/quit", Command{
		Help: "disconnect",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprintln(ctx.Terminal, "Goodbye.")
			return true
		},
	})

	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprint(ctx.Terminal, r.HelpText())
			return false
		},
	})
}
