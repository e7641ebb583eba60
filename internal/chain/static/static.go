// Package static is a development chain backend. Names resolve from a fixed
// table, the network fee is a configured constant and transfers are only
// recorded in memory.
package static

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"faucet/internal/claim"
	"faucet/internal/logging"
)

var logger = logging.For("chain")

// Transfer is a payout accepted by the backend.
type Transfer struct {
	ID      string
	Address string
	Amount  uint64
}

type Options struct {
	Names        map[string]string // "name@namespace" -> address
	Fee          uint64
	FeeThreshold float64
	PayoutBase   uint64
}

// Backend implements claim.Resolver, claim.FeeOracle and claim.Sender.
type Backend struct {
	names     map[string]string
	threshold float64
	base      uint64

	mu        sync.Mutex
	fee       uint64
	transfers []Transfer
}

var (
	_ claim.Resolver  = (*Backend)(nil)
	_ claim.FeeOracle = (*Backend)(nil)
	_ claim.Sender    = (*Backend)(nil)
)

func New(opts Options) *Backend {
	names := make(map[string]string, len(opts.Names))
	for k, v := range opts.Names {
		names[k] = v
	}
	return &Backend{
		names:     names,
		threshold: opts.FeeThreshold,
		base:      opts.PayoutBase,
		fee:       opts.Fee,
	}
}

func (b *Backend) Resolve(ctx context.Context, name, namespace string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr, ok := b.names[name+"@"+namespace]
	if !ok || addr == "" {
		return "", fmt.Errorf("%s@%s: %w", name, namespace, claim.ErrNotFound)
	}
	return addr, nil
}

// FeeAcceptable reports whether the current fee is at most threshold times
// the payout base.
func (b *Backend) FeeAcceptable(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	fee := b.fee
	b.mu.Unlock()
	return float64(fee) <= b.threshold*float64(b.base), nil
}

// SetFee changes the reported network fee.
func (b *Backend) SetFee(fee uint64) {
	b.mu.Lock()
	b.fee = fee
	b.mu.Unlock()
}

func (b *Backend) Send(ctx context.Context, address string, amount uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")

	b.mu.Lock()
	b.transfers = append(b.transfers, Transfer{ID: id, Address: address, Amount: amount})
	b.mu.Unlock()

	logger.Info("transfer recorded", "tx", id, "address", address, "amount", amount)
	return id, nil
}

// Transfers returns a copy of every accepted transfer in order.
func (b *Backend) Transfers() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Transfer(nil), b.transfers...)
}
