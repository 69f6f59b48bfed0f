package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/claw4business/quickbooks-online-cli/pkg/logger"
	"github.com/shopspring/decimal"
)

// Snapshot is a read-only view of the ledger for one account and date
// window, taken once per run. Matching decisions within a run are computed
// against this fixed view, so mid-run remote changes cannot skew them.
type Snapshot struct {
	AccountID    string                      `json:"account_id"`
	Window       models.DateRange            `json:"window"`
	Transactions []*models.LedgerTransaction `json:"transactions"`
	FetchedAt    time.Time                   `json:"fetched_at"`
}

// Balance sums the signed amounts of every transaction in the snapshot.
func (s *Snapshot) Balance() decimal.Decimal {
	total := decimal.Zero
	for _, txn := range s.Transactions {
		total = total.Add(txn.Amount)
	}
	return total
}

// Fingerprints returns the import fingerprints present in the snapshot.
func (s *Snapshot) Fingerprints() []string {
	var fps []string
	for _, txn := range s.Transactions {
		if txn.Fingerprint != "" {
			fps = append(fps, txn.Fingerprint)
		}
	}
	return fps
}

// ReaderConfig tunes the snapshot reader's retry behavior.
type ReaderConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultReaderConfig returns the standard retry settings: three attempts
// with linear backoff.
func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		MaxRetries: 2,
		Backoff:    500 * time.Millisecond,
	}
}

// SnapshotReader fetches ledger snapshots through a Gateway, retrying
// transient read failures and deduplicating cross-entity query overlap.
type SnapshotReader struct {
	gateway Gateway
	config  *ReaderConfig
	log     logger.Logger
}

// NewSnapshotReader creates a snapshot reader over the given gateway.
func NewSnapshotReader(gateway Gateway, config *ReaderConfig) *SnapshotReader {
	if config == nil {
		config = DefaultReaderConfig()
	}
	return &SnapshotReader{
		gateway: gateway,
		config:  config,
		log:     logger.WithComponent("snapshot"),
	}
}

// Fetch reads the ledger transactions for the account over the window.
// Snapshot fetches are idempotent reads, so transient failures are retried
// with bounded backoff before giving up.
func (sr *SnapshotReader) Fetch(ctx context.Context, accountID string, window models.DateRange) (*Snapshot, error) {
	var txns []*models.LedgerTransaction
	var lastErr error

	for attempt := 0; attempt <= sr.config.MaxRetries; attempt++ {
		if attempt > 0 {
			sr.log.WithFields(logger.Fields{
				"attempt":    attempt,
				"account_id": accountID,
			}).Warn("retrying snapshot fetch after transient failure")

			select {
			case <-ctx.Done():
				return nil, qberrors.RemoteError(qberrors.CodeRemoteTransient, "snapshot fetch", ctx.Err())
			case <-time.After(time.Duration(attempt) * sr.config.Backoff):
			}
		}

		txns, lastErr = sr.gateway.QueryTransactions(ctx, accountID, window)
		if lastErr == nil {
			break
		}

		if qbErr, ok := qberrors.AsQBError(lastErr); !ok || !qbErr.IsRetryable() {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	return &Snapshot{
		AccountID:    accountID,
		Window:       window,
		Transactions: dedupeByID(txns),
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// FetchBalanceThrough sums ledger activity from the earliest supported date
// up to and including the cutoff. Used to compute the opening ledger
// balance when a reconciliation session starts.
func (sr *SnapshotReader) FetchBalanceThrough(ctx context.Context, accountID string, cutoff time.Time) (decimal.Decimal, error) {
	window := models.DateRange{
		// The remote keeps at most a decade of history for these accounts.
		Start: models.TruncateToDay(cutoff.AddDate(-10, 0, 0)),
		End:   models.TruncateToDay(cutoff),
	}

	snapshot, err := sr.Fetch(ctx, accountID, window)
	if err != nil {
		return decimal.Zero, err
	}
	return snapshot.Balance(), nil
}

// dedupeByID removes transactions that surfaced in more than one entity
// query, keyed by (entity, id). Order of first appearance is preserved.
func dedupeByID(txns []*models.LedgerTransaction) []*models.LedgerTransaction {
	seen := make(map[string]bool, len(txns))
	out := make([]*models.LedgerTransaction, 0, len(txns))
	for _, txn := range txns {
		key := fmt.Sprintf("%s/%s", txn.EntityType, txn.ID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, txn)
	}
	return out
}
