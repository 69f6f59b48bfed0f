// Package importer applies match decisions to the remote ledger.
//
// Exact matches are skipped, probable matches are flagged for review and
// never auto-applied, and unmatched statement transactions become new
// ledger entries unless the dedup guard has seen their fingerprint in a
// prior run. Creates run on a bounded worker pool and fail independently:
// one rejected transaction never aborts its siblings.
package importer

import (
	"context"
	"fmt"
	"sync"

	"github.com/claw4business/quickbooks-online-cli/internal/dedup"
	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/claw4business/quickbooks-online-cli/pkg/logger"
	"github.com/sourcegraph/conc/pool"
)

// Config tunes the import executor.
type Config struct {
	// MaxInFlight bounds concurrent create calls to respect remote rate
	// limits.
	MaxInFlight int `json:"max_in_flight"`
}

// DefaultConfig returns the standard executor settings.
func DefaultConfig() *Config {
	return &Config{MaxInFlight: 4}
}

// Validate checks the executor configuration.
func (c *Config) Validate() error {
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("max in-flight creates must be positive, got %d", c.MaxInFlight)
	}
	return nil
}

// Executor applies matcher and guard decisions for one account.
type Executor struct {
	gateway   ledger.Gateway
	guard     *dedup.Guard
	accountID string
	config    *Config
	log       logger.Logger
}

// NewExecutor creates an import executor.
func NewExecutor(gateway ledger.Gateway, guard *dedup.Guard, accountID string, config *Config) (*Executor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}

	return &Executor{
		gateway:   gateway,
		guard:     guard,
		accountID: accountID,
		config:    config,
		log:       logger.WithComponent("importer"),
	}, nil
}

// Execute applies the decisions and returns the run record. With dryRun set
// it records the intended creations without touching the remote ledger; the
// report content is otherwise identical to a live run's plan.
func (e *Executor) Execute(ctx context.Context, decisions []*models.MatchDecision, dryRun bool) *models.ImportRun {
	run := &models.ImportRun{DryRun: dryRun}

	// Sequential pre-pass: classify decisions and weed out fingerprints
	// already applied, either by a prior run or earlier in this one.
	var toCreate []*models.MatchDecision
	for _, decision := range decisions {
		switch decision.Tier {
		case models.TierExact:
			run.SkippedExact++
		case models.TierProbable:
			run.FlaggedProbable = append(run.FlaggedProbable, decision)
		case models.TierNoMatch:
			fp := dedup.Fingerprint(e.accountID, decision.Statement)
			if ledgerID, seen := e.guard.Seen(fp); seen {
				run.SkippedSeen++
				e.log.WithFields(logger.Fields{
					"fingerprint": fp,
					"ledger_id":   ledgerID,
				}).Debug("skipping already-imported transaction")
				continue
			}
			e.guard.Record(fp, "")
			toCreate = append(toCreate, decision)
		}
	}

	if dryRun {
		run.Planned = toCreate
		return run
	}

	// Bounded parallel creates. Each create is independent and idempotent
	// via its fingerprint, so sibling failures never cancel in-flight work.
	var mu sync.Mutex
	workers := pool.New().WithMaxGoroutines(e.config.MaxInFlight)
	for _, decision := range toCreate {
		decision := decision
		workers.Go(func() {
			created, err := e.createOne(ctx, decision.Statement)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				run.Failed = append(run.Failed, models.FailedEntry{
					Statement: decision.Statement,
					Error:     err.Error(),
				})
				return
			}
			run.Created = append(run.Created, models.CreatedEntry{
				Statement:  decision.Statement,
				LedgerID:   created.ID,
				EntityType: created.EntityType,
			})
			e.guard.Record(created.Fingerprint, created.ID)
		})
	}
	workers.Wait()

	e.log.WithFields(logger.Fields{
		"created":       len(run.Created),
		"failed":        len(run.Failed),
		"skipped_exact": run.SkippedExact,
		"flagged":       len(run.FlaggedProbable),
	}).Info("import run complete")

	return run
}

// createOne issues a single create call. Write failures are never retried
// here; a re-run goes back through the dedup guard instead.
func (e *Executor) createOne(ctx context.Context, stmt *models.StatementTransaction) (*models.LedgerTransaction, error) {
	fp := dedup.Fingerprint(e.accountID, stmt)
	req := &ledger.CreateRequest{
		AccountID:   e.accountID,
		Amount:      stmt.Amount,
		Date:        stmt.Date,
		Description: stmt.Description,
		CheckNumber: stmt.CheckNumber,
		FitID:       stmt.FitID,
		Fingerprint: fp,
	}

	created, err := e.gateway.CreateTransaction(ctx, req)
	if err != nil {
		return nil, qberrors.WrapIfNeeded(err, qberrors.CategoryRemote, qberrors.CodeRemoteWrite,
			fmt.Sprintf("create failed for statement transaction on %s", stmt.Date.Format(models.DateFormat)))
	}

	created.Fingerprint = fp
	created.CreatedByImport = true
	return created, nil
}
