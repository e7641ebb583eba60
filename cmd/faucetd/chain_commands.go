package main

import (
	"fmt"
	"strconv"

	"faucet/internal/chain/static"
	"faucet/internal/ssh"
)

// registerChainCommands adds console commands that inspect and steer the
// static chain backend.
func registerChainCommands(reg ssh.CommandRegistrar, chain *static.Backend) {
	if chain == nil {
		return
	}

	reg.Register("/fee", ssh.Command{
		Usage:   "/fee <amount>",
		Help:    "set the simulated network fee",
		Handler: handleFee(chain),
	})

	reg.Register("/transfers", ssh.Command{
		Help:    "list transfers sent since startup",
		Handler: handleTransfers(chain),
	})
}

func handleFee(chain *static.Backend) func(ssh.CommandContext) bool {
	return func(ctx ssh.CommandContext) bool {
		if len(ctx.Args) != 1 {
			_, _ = fmt.Fprintln(ctx.Terminal, "Usage: /fee <amount>")
			return false
		}
		fee, err := strconv.ParseUint(ctx.Args[0], 10, 64)
		if err != nil {
			_, _ = fmt.Fprintf(ctx.Terminal, "Invalid amount %q\r\n", ctx.Args[0])
			return false
		}
		chain.SetFee(fee)
		log.Info("network fee changed", "user", ctx.User, "fee", fee)
		_, _ = fmt.Fprintf(ctx.Terminal, "Network fee set to %d\r\n", fee)
		return false
	}
}

func handleTransfers(chain *static.Backend) func(ssh.CommandContext) bool {
	return func(ctx ssh.CommandContext) bool {
		transfers := chain.Transfers()
		if len(transfers) == 0 {
			_, _ = fmt.Fprintln(ctx.Terminal, "Transfers: (none)")
			return false
		}
		_, _ = fmt.Fprintf(ctx.Terminal, "Transfers (%d):\r\n", len(transfers))
		for _, tr := range transfers {
			_, _ = fmt.Fprintf(ctx.Terminal, "  %s  %-44s %d\r\n", tr.ID, tr.Address, tr.Amount)
		}
		return false
	}
}
