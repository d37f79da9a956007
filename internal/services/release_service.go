package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// ReleaseService is the recurring sweep that promotes matured HELD entries to
// AVAILABLE. Multiple service instances may run it concurrently: the claim
// (FOR UPDATE SKIP LOCKED) and the status predicate on the promote make the
// sweep idempotent per entry.
type ReleaseService struct {
	db        *sql.DB
	ledger    *LedgerService
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewReleaseService(db *sql.DB, ledger *LedgerService, interval time.Duration, batchSize int) *ReleaseService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ReleaseService{
		db:        db,
		ledger:    ledger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is canceled. An immediate
// first sweep catches entries that matured while the service was down.
func (s *ReleaseService) Run(ctx context.Context) {
	if _, err := s.Sweep(ctx, s.now()); err != nil {
		log.Printf("[RELEASE] Initial sweep failed: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil {
				log.Printf("[RELEASE] Sweep failed: %v", err)
			}
		}
	}
}

// Sweep promotes every HELD entry with release_at <= now, batch by batch.
// Each batch is one transaction: claim, promote, commit. A batch that fails
// rolls back whole, and its entries stay HELD for the next run.
func (s *ReleaseService) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		promoted, err := s.sweepBatch(ctx, now)
		if err != nil {
			return total, err
		}
		total += promoted
		if promoted < int64(s.batchSize) {
			break
		}
	}
	if total > 0 {
		log.Printf("[RELEASE] Promoted %d ledger entries to AVAILABLE", total)
	}
	return total, nil
}

func (s *ReleaseService) sweepBatch(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	entries, err := s.ledger.MatureEntries(ctx, tx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, tx.Commit()
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	promoted, err := s.ledger.Promote(ctx, tx, ids)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return promoted, nil
}
