// Command faucetd runs the test-network faucet: the claim service, its
// ledger and the SSH operator console.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "faucetd:", err)
		os.Exit(1)
	}
}
