package main

import (
	"sync/atomic"

	"faucet/internal/chain/static"
	"faucet/internal/claim"
	"faucet/internal/config"
	"faucet/internal/ledger"
)

// app wires the ledger, the chain backend and the claim service.
type app struct {
	db    *ledger.DB
	chain *static.Backend
	svc   *claim.Service

	auditFailures atomic.Int64
}

func openApp(cfg *config.Config) (*app, error) {
	db, err := ledger.Open(cfg.Store.Path, ledger.Options{
		SizeLimit:   cfg.Store.PartitionSizeLimit,
		ClaimsLimit: cfg.Store.ClaimsSizeLimit,
		LogsLimit:   cfg.Store.LogsSizeLimit,
		Segments:    cfg.Store.Segments,
		NoSync:      cfg.Store.NoSync,
	})
	if err != nil {
		return nil, err
	}

	chain := static.New(static.Options{
		Names:        cfg.Chain.Names,
		Fee:          cfg.Chain.Fee,
		FeeThreshold: cfg.Faucet.FeeThreshold,
		PayoutBase:   cfg.Faucet.PayoutBase,
	})

	a := &app{db: db, chain: chain}
	a.svc = claim.New(db, claim.Deps{
		Resolver:  chain,
		FeeOracle: chain,
		Sender:    chain,
		AuditErrorHandler: func(error) {
			a.auditFailures.Add(1)
		},
	}, claim.Config{
		Cooldown:   cfg.Faucet.Cooldown(),
		PayoutBase: cfg.Faucet.PayoutBase,
		Adjustment: cfg.Faucet.PayoutAdjustment,
		Decimals:   cfg.Faucet.Decimals,
	})

	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
