package static

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faucet/internal/claim"
	"faucet/internal/ledger"
)

func TestResolve(t *testing.T) {
	b := New(Options{Names: map[string]string{"alice@dev": "0xABC", "ghost@dev": ""}})

	addr, err := b.Resolve(context.Background(), "alice", "dev")
	require.NoError(t, err)
	assert.Equal(t, "0xABC", addr)

	_, err = b.Resolve(context.Background(), "alice", "prod")
	assert.ErrorIs(t, err, claim.ErrNotFound)

	_, err = b.Resolve(context.Background(), "ghost", "dev")
	assert.ErrorIs(t, err, claim.ErrNotFound)
}

func TestNamesAreCopied(t *testing.T) {
	names := map[string]string{"alice@dev": "0xABC"}
	b := New(Options{Names: names})
	names["alice@dev"] = "0xEVIL"

	addr, err := b.Resolve(context.Background(), "alice", "dev")
	require.NoError(t, err)
	assert.Equal(t, "0xABC", addr)
}

func TestFeeAcceptable(t *testing.T) {
	b := New(Options{Fee: 100, FeeThreshold: 0.1, PayoutBase: 1000})

	ok, err := b.FeeAcceptable(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "fee equal to the threshold is accepted")

	b.SetFee(101)
	ok, err = b.FeeAcceptable(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSend(t *testing.T) {
	b := New(Options{})

	id1, err := b.Send(context.Background(), "0xABC", 10)
	require.NoError(t, err)
	id2, err := b.Send(context.Background(), "0xDEF", 20)
	require.NoError(t, err)

	assert.Len(t, id1, 34)
	assert.Regexp(t, "^0x[0-9a-f]{32}$", id1)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, []Transfer{
		{ID: id1, Address: "0xABC", Amount: 10},
		{ID: id2, Address: "0xDEF", Amount: 20},
	}, b.Transfers())
}

func TestCancelledContext(t *testing.T) {
	b := New(Options{Names: map[string]string{"alice@dev": "0xABC"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Resolve(ctx, "alice", "dev")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = b.Send(ctx, "0xABC", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, b.Transfers())
}

func TestDrivesClaimService(t *testing.T) {
	db, err := ledger.Open(t.TempDir(), ledger.Options{SizeLimit: 1 << 20, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := New(Options{
		Names:        map[string]string{"alice@dev": "0xABC"},
		Fee:          1,
		FeeThreshold: 0.1,
		PayoutBase:   1000,
	})
	svc := claim.New(db, claim.Deps{
		Resolver:  b,
		FeeOracle: b,
		Sender:    b,
		Clock:     claim.ClockFunc(func() uint64 { return 200_000 }),
	}, claim.Config{Cooldown: time.Hour, PayoutBase: 1000, Adjustment: 0.05, Decimals: 0})

	tx, err := svc.SubmitClaim(context.Background(), "alice@dev")
	require.NoError(t, err)

	transfers := b.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, tx, transfers[0].ID)
	assert.Equal(t, uint64(2200), transfers[0].Amount)

	b.SetFee(1000)
	_, err = svc.SubmitClaim(context.Background(), "bob@dev")
	assert.ErrorIs(t, err, claim.ErrNameNotFound)
}
