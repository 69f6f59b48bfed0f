// Package session tracks multi-step reconciliation sessions.
//
// A session covers one (account, statement period) pair and survives
// process restarts through an injected Store. The state machine runs
// Started -> Matched -> Reported -> Closed; `match` may be re-invoked from
// Matched or Reported to refresh results against current ledger state.
//
// Closed is advisory only: the remote ledger exposes no programmatic
// "mark reconciled" operation, so closure is recorded locally and mirrored
// from the remote UI by a human.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/claw4business/quickbooks-online-cli/internal/matcher"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/claw4business/quickbooks-online-cli/pkg/logger"
	"github.com/shopspring/decimal"
)

// Status is the reconciliation session state.
type Status string

const (
	StatusStarted  Status = "started"
	StatusMatched  Status = "matched"
	StatusReported Status = "reported"
	StatusClosed   Status = "closed"
)

// DiscrepancyKind classifies unresolved reconciliation items.
type DiscrepancyKind string

const (
	// DiscrepancyStatementOnly marks a statement transaction with no
	// ledger counterpart.
	DiscrepancyStatementOnly DiscrepancyKind = "statement_only"
	// DiscrepancyProbable marks a statement transaction with an
	// amount+date-proximity candidate awaiting review.
	DiscrepancyProbable DiscrepancyKind = "probable"
	// DiscrepancyLedgerOnly marks an in-period ledger transaction with no
	// statement counterpart.
	DiscrepancyLedgerOnly DiscrepancyKind = "ledger_only"
)

// Discrepancy is one unresolved item recorded on a session.
type Discrepancy struct {
	Kind            DiscrepancyKind `json:"kind"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	LedgerID        string          `json:"ledger_id,omitempty"`
	SuggestedAction string          `json:"suggested_action"`
}

// Session is the persistent record of an in-progress reconciliation.
type Session struct {
	AccountID            string          `json:"account_id"`
	StatementDate        time.Time       `json:"statement_date"`
	StatementBalance     decimal.Decimal `json:"statement_balance"`
	OpeningLedgerBalance decimal.Decimal `json:"opening_ledger_balance"`
	Status               Status          `json:"status"`
	MatchedCount         int             `json:"matched_count"`
	MatchedCredits       decimal.Decimal `json:"matched_credits"`
	MatchedDebits        decimal.Decimal `json:"matched_debits"`
	Discrepancies        []Discrepancy   `json:"discrepancies,omitempty"`
	StartedAt            time.Time       `json:"started_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ReconciledBalance is the ledger-side total the statement balance is
// checked against: opening balance plus matched credits minus matched
// debits.
func (s *Session) ReconciledBalance() decimal.Decimal {
	return s.OpeningLedgerBalance.Add(s.MatchedCredits).Sub(s.MatchedDebits)
}

// Residual is the unexplained difference between the statement balance and
// the reconciled ledger balance. Zero means the period reconciles.
func (s *Session) Residual() decimal.Decimal {
	return s.StatementBalance.Sub(s.ReconciledBalance())
}

// Manager drives session state transitions.
type Manager struct {
	store  Store
	reader *ledger.SnapshotReader
	engine *matcher.Engine
	log    logger.Logger
}

// NewManager creates a session manager over the given store, snapshot
// reader and matching engine.
func NewManager(store Store, reader *ledger.SnapshotReader, engine *matcher.Engine) *Manager {
	return &Manager{
		store:  store,
		reader: reader,
		engine: engine,
		log:    logger.WithComponent("session"),
	}
}

// Start opens a new session. The opening ledger balance sums ledger
// activity through the day before the statement period begins (the first of
// the statement month). Starting over an existing non-closed session is an
// error unless reset is set.
func (m *Manager) Start(ctx context.Context, accountID string, statementDate time.Time, statementBalance decimal.Decimal, reset bool) (*Session, error) {
	statementDate = models.TruncateToDay(statementDate)

	existing, err := m.store.Get(ctx, accountID, statementDate)
	if err != nil {
		return nil, qberrors.InternalError("session lookup", err)
	}
	if existing != nil && !reset {
		return nil, qberrors.SessionError(qberrors.CodeSessionExists, accountID,
			fmt.Sprintf("statement date %s, status %s", statementDate.Format(models.DateFormat), existing.Status))
	}

	opening, err := m.reader.FetchBalanceThrough(ctx, accountID, periodStart(statementDate).AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &Session{
		AccountID:            accountID,
		StatementDate:        statementDate,
		StatementBalance:     statementBalance,
		OpeningLedgerBalance: opening,
		Status:               StatusStarted,
		MatchedCredits:       decimal.Zero,
		MatchedDebits:        decimal.Zero,
		StartedAt:            now,
		UpdatedAt:            now,
	}

	if err := m.store.Put(ctx, sess); err != nil {
		return nil, qberrors.InternalError("session save", err)
	}

	m.log.WithFields(logger.Fields{
		"account_id":      accountID,
		"statement_date":  statementDate.Format(models.DateFormat),
		"opening_balance": opening.String(),
	}).Info("reconciliation session started")

	return sess, nil
}

// Status returns the most recent session for the account.
func (m *Manager) Status(ctx context.Context, accountID string) (*Session, error) {
	sess, err := m.store.Latest(ctx, accountID)
	if err != nil {
		return nil, qberrors.InternalError("session lookup", err)
	}
	if sess == nil {
		return nil, qberrors.NotFoundError(qberrors.CodeSessionNotFound, "session", accountID)
	}
	return sess, nil
}

// Match runs the matcher against a fresh ledger snapshot and the parsed
// statement, then records the tallies and discrepancies on the session.
// Re-invoking from Matched or Reported refreshes the results.
func (m *Manager) Match(ctx context.Context, accountID string, statements []*models.StatementTransaction, windowDays int) (*Session, []*models.MatchDecision, error) {
	sess, err := m.Status(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status == StatusClosed {
		return nil, nil, qberrors.SessionError(qberrors.CodeInvalidTransition, accountID,
			"cannot match a closed session")
	}
	if len(statements) == 0 {
		return nil, nil, qberrors.FormatError(qberrors.CodeNoRecords, "statement", "", nil)
	}

	period := statementWindow(statements)
	window := period.Expand(windowDays)
	snapshot, err := m.reader.Fetch(ctx, accountID, window)
	if err != nil {
		return nil, nil, err
	}

	decisions := m.engine.Match(statements, snapshot)

	sess.MatchedCount = 0
	sess.MatchedCredits = decimal.Zero
	sess.MatchedDebits = decimal.Zero
	sess.Discrepancies = nil

	claimed := make(map[string]bool)
	for _, decision := range decisions {
		switch decision.Tier {
		case models.TierExact:
			sess.MatchedCount++
			if decision.Statement.IsCredit() {
				sess.MatchedCredits = sess.MatchedCredits.Add(decision.Statement.Amount)
			} else {
				sess.MatchedDebits = sess.MatchedDebits.Add(decision.Statement.Amount.Abs())
			}
			claimed[ledgerKey(decision.Candidate)] = true
		case models.TierProbable:
			claimed[ledgerKey(decision.Candidate)] = true
			sess.Discrepancies = append(sess.Discrepancies, Discrepancy{
				Kind:            DiscrepancyProbable,
				Date:            decision.Statement.Date,
				Amount:          decision.Statement.Amount,
				Description:     decision.Statement.Description,
				LedgerID:        decision.Candidate.ID,
				SuggestedAction: "review candidate ledger transaction " + decision.Candidate.ID,
			})
		case models.TierNoMatch:
			sess.Discrepancies = append(sess.Discrepancies, Discrepancy{
				Kind:            DiscrepancyStatementOnly,
				Date:            decision.Statement.Date,
				Amount:          decision.Statement.Amount,
				Description:     decision.Statement.Description,
				SuggestedAction: "import to create a ledger entry, or record manually",
			})
		}
	}

	// Ledger-only discrepancies: in-period ledger transactions no
	// statement line claimed. The snapshot window is wider than the
	// statement period so near-period transactions can claim probable
	// matches, but unclaimed ones outside the period are not reportable.
	for _, txn := range snapshot.Transactions {
		if claimed[ledgerKey(txn)] {
			continue
		}
		if !period.Contains(txn.Date) {
			continue
		}
		sess.Discrepancies = append(sess.Discrepancies, Discrepancy{
			Kind:            DiscrepancyLedgerOnly,
			Date:            txn.Date,
			Amount:          txn.Amount,
			Description:     txn.Memo,
			LedgerID:        txn.ID,
			SuggestedAction: "verify the transaction cleared the bank, or void it",
		})
	}

	sess.Status = StatusMatched
	sess.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, nil, qberrors.InternalError("session save", err)
	}

	m.log.WithFields(logger.Fields{
		"account_id":    accountID,
		"matched":       sess.MatchedCount,
		"discrepancies": len(sess.Discrepancies),
	}).Info("reconciliation match refreshed")

	return sess, decisions, nil
}

// MarkReported advances the session to Reported. Reporting recomputes from
// current state, so repeated calls are idempotent.
func (m *Manager) MarkReported(ctx context.Context, accountID string) (*Session, error) {
	sess, err := m.Status(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusClosed {
		return nil, qberrors.SessionError(qberrors.CodeInvalidTransition, accountID,
			"cannot report a closed session")
	}
	if sess.Status == StatusStarted {
		return nil, qberrors.SessionError(qberrors.CodeInvalidTransition, accountID,
			"run 'reconcile match' before generating a report")
	}

	sess.Status = StatusReported
	sess.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, qberrors.InternalError("session save", err)
	}
	return sess, nil
}

// Close records the advisory Closed marker. It has no remote effect: the
// ledger API has no operation for marking transactions reconciled.
func (m *Manager) Close(ctx context.Context, accountID string, statementDate time.Time) (*Session, error) {
	statementDate = models.TruncateToDay(statementDate)

	sess, err := m.store.Get(ctx, accountID, statementDate)
	if err != nil {
		return nil, qberrors.InternalError("session lookup", err)
	}
	if sess == nil {
		return nil, qberrors.NotFoundError(qberrors.CodeSessionNotFound, "session",
			fmt.Sprintf("%s/%s", accountID, statementDate.Format(models.DateFormat)))
	}
	if sess.Status == StatusClosed {
		return nil, qberrors.SessionError(qberrors.CodeInvalidTransition, accountID,
			"session is already closed")
	}

	sess.Status = StatusClosed
	sess.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, qberrors.InternalError("session save", err)
	}
	return sess, nil
}

func ledgerKey(txn *models.LedgerTransaction) string {
	return string(txn.EntityType) + "/" + txn.ID
}

// periodStart returns the first day of the statement month.
func periodStart(statementDate time.Time) time.Time {
	y, mo, _ := statementDate.Date()
	return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
}

// statementWindow returns the inclusive date range spanned by the parsed
// statement transactions.
func statementWindow(statements []*models.StatementTransaction) models.DateRange {
	r := models.DateRange{Start: statements[0].Date, End: statements[0].Date}
	for _, stmt := range statements[1:] {
		if stmt.Date.Before(r.Start) {
			r.Start = stmt.Date
		}
		if stmt.Date.After(r.End) {
			r.End = stmt.Date
		}
	}
	return r
}
