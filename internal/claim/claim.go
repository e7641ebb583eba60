// Package claim runs the faucet's claim workflow: resolve the requested name,
// enforce the per-identity cooldown and the network fee gate, compute the
// payout, send it, record the claim and audit the attempt.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"faucet/internal/ledger"
	"faucet/internal/logging"
	"faucet/internal/payout"
)

var logger = logging.For("claim")

// Config holds the workflow parameters.
type Config struct {
	Cooldown   time.Duration
	PayoutBase uint64
	Adjustment float64
	Decimals   int
}

// Service processes claims against a ledger.
type Service struct {
	db       *ledger.DB
	deps     Deps
	cfg      Config
	schedule payout.Schedule
	locks    *lockTable
	quotes   singleflight.Group
}

func New(db *ledger.DB, deps Deps, cfg Config) *Service {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	return &Service{
		db:       db,
		deps:     deps,
		cfg:      cfg,
		schedule: payout.Schedule{Base: cfg.PayoutBase, Adjustment: cfg.Adjustment},
		locks:    newLockTable(),
	}
}

type outcome struct {
	address string
	amount  uint64
	txID    string
	sent    bool
	err     error
}

// SubmitClaim runs one claim attempt for input of the form name@namespace
// and returns the transfer id. Every call appends exactly one audit entry
// keyed by the attempt's start time.
//
// If the transfer went out but the claim could not be recorded, the transfer
// id is returned together with an ErrInternal error.
func (s *Service) SubmitClaim(ctx context.Context, input string) (string, error) {
	now := s.deps.Clock.Now()
	log := logger.With("attempt", uuid.NewString())
	log.Debug("claim received", "input", input, "now", now)

	o := s.run(ctx, log, now, input)
	s.audit(log, now, input, o)

	if o.err != nil {
		log.Info("claim rejected", "input", input, "reason", o.err.Error())
		return o.txID, o.err
	}
	log.Info("claim paid", "address", o.address, "amount", o.amount, "tx", o.txID)
	return o.txID, nil
}

func (s *Service) run(ctx context.Context, log *slog.Logger, now uint64, input string) outcome {
	name, namespace, ok := strings.Cut(input, "@")
	if !ok || name == "" {
		return outcome{err: reject(ErrNameNotFound, "unable to resolve the name", errMalformedName)}
	}

	address, err := s.deps.Resolver.Resolve(ctx, name, namespace)
	switch {
	case errors.Is(err, ErrNotFound):
		return outcome{err: reject(ErrNameNotFound, "unable to resolve the name", err)}
	case err != nil:
		return outcome{err: reject(ErrInternal, "unable to resolve the name", err)}
	case address == "":
		return outcome{err: reject(ErrNameNotFound, "unable to resolve the name", ErrNotFound)}
	}

	unlock, err := s.locks.lock(ctx, address)
	if err != nil {
		return outcome{address: address, err: reject(ErrInternal, "claim cancelled", err)}
	}
	defer unlock()

	o := outcome{address: address}

	last, found, err := s.db.GetClaim(address)
	if err != nil {
		o.err = reject(ErrInternal, "unable to read claim history", err)
		return o
	}
	if found {
		elapsed := saturatingSub(now, last)
		cooldown := uint64(s.cfg.Cooldown / time.Second)
		if elapsed < cooldown {
			o.err = reject(ErrCooldownActive,
				fmt.Sprintf("cooldown is not ended, retry in %ds", cooldown-elapsed), nil)
			return o
		}
	}

	acceptable, err := s.deps.FeeOracle.FeeAcceptable(ctx)
	if err != nil {
		o.err = reject(ErrInternal, "unable to check network fees", err)
		return o
	}
	if !acceptable {
		o.err = reject(ErrFeeTooHigh, "network fee is too high", nil)
		return o
	}

	coef, err := s.coefficient(now)
	if err != nil {
		o.err = reject(ErrInternal, "unable to compute payout", err)
		return o
	}
	o.amount = s.schedule.Amount(coef)

	if err := ctx.Err(); err != nil {
		o.err = reject(ErrInternal, "claim cancelled", err)
		return o
	}

	txID, err := s.deps.Sender.Send(ctx, address, o.amount)
	if err != nil {
		o.err = reject(ErrTransferFailed, "unable to send funds", err)
		return o
	}
	o.txID, o.sent = txID, true

	if err := s.db.PutClaim(address, now); err != nil {
		log.Error("transfer sent but claim not recorded", "address", address, "tx", txID, "err", err)
		o.err = reject(ErrInternal, "unable to record claim", err)
	}
	return o
}

// coefficient reads the system-wide last successful claim within the trailing
// period. No claim in the window means the full period has elapsed.
func (s *Service) coefficient(now uint64) (float64, error) {
	last, found, err := s.db.LastSuccessfulClaim(saturatingSub(now, payout.PeriodSec), now)
	if err != nil {
		return 0, err
	}
	if !found {
		return payout.MaxCoefficient(s.cfg.Adjustment), nil
	}
	return s.schedule.Coefficient(now, last), nil
}

func (s *Service) audit(log *slog.Logger, now uint64, input string, o outcome) {
	result := o.txID
	if !o.sent {
		result = o.err.Error()
	}
	if err := s.db.AppendLog(now, o.sent, input, result); err != nil {
		log.Warn("audit write failed", "ts", now, "err", err)
		if s.deps.AuditErrorHandler != nil {
			s.deps.AuditErrorHandler(err)
		}
	}
}

// Quote is a payout range rendered in whole units.
type Quote struct {
	Min     string
	Current string
	Max     string
}

// PayoutRange returns the minimum, current and maximum payout. Concurrent
// callers share a single ledger lookup.
func (s *Service) PayoutRange(ctx context.Context) (Quote, error) {
	ch := s.quotes.DoChan("range", func() (any, error) {
		now := s.deps.Clock.Now()
		coef, err := s.coefficient(now)
		if err != nil {
			return nil, err
		}
		r := s.schedule.Range(coef)
		return Quote{
			Min:     payout.FormatUnits(r.Min, s.cfg.Decimals),
			Current: payout.FormatUnits(r.Current, s.cfg.Decimals),
			Max:     payout.FormatUnits(r.Max, s.cfg.Decimals),
		}, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Quote{}, res.Err
		}
		return res.Val.(Quote), nil
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	}
}

// AuditLog returns every audit entry in key order. On a decode error the
// entries read so far are returned with the error.
func (s *Service) AuditLog() ([]ledger.LogEntry, error) {
	var entries []ledger.LogEntry
	for e, err := range s.db.ScanLogs() {
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Meta reports the ledger's operational snapshot.
func (s *Service) Meta() (ledger.Meta, error) {
	return s.db.Meta()
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
