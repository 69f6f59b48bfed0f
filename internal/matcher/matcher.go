// Package matcher classifies parsed statement transactions against a ledger
// snapshot.
//
// Every statement transaction receives exactly one decision, with tiers
// tried in order and the first hit winning:
//
//  1. Exact: identical signed amount and date, plus FITID equality (when
//     both sides carry one) or check number equality (when both sides carry
//     one). Magnitude-compared entities never reach this tier.
//  2. Probable: identical amount with the date inside the configured
//     window. The nearest candidate by date wins; ties break to the
//     smallest numeric ledger id so results are stable across runs.
//  3. NoMatch: nothing qualified.
//
// A ledger transaction is consumed by at most one statement transaction per
// run, claimed in statement input order.
package matcher

import (
	"fmt"
	"sort"

	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
)

// Engine matches statement transactions against a ledger snapshot.
type Engine struct {
	config *Config
}

// NewEngine creates a matching engine with the given policy.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matcher config: %w", err)
	}
	return &Engine{config: config}, nil
}

// Match classifies every statement transaction, in input order, against the
// snapshot. Returns one decision per input.
func (e *Engine) Match(statements []*models.StatementTransaction, snapshot *ledger.Snapshot) []*models.MatchDecision {
	claimed := make(map[string]bool, len(snapshot.Transactions))
	decisions := make([]*models.MatchDecision, 0, len(statements))

	for _, stmt := range statements {
		decision := e.classify(stmt, snapshot.Transactions, claimed)
		if decision.Candidate != nil {
			claimed[candidateKey(decision.Candidate)] = true
		}
		decisions = append(decisions, decision)
	}

	return decisions
}

// classify finds the best unclaimed candidate for one statement transaction.
func (e *Engine) classify(stmt *models.StatementTransaction, snapshot []*models.LedgerTransaction, claimed map[string]bool) *models.MatchDecision {
	var probable []*models.LedgerTransaction

	for _, txn := range snapshot {
		if claimed[candidateKey(txn)] {
			continue
		}
		if !amountsEqual(stmt, txn) {
			continue
		}

		days := models.DaysBetween(stmt.Date, txn.Date)
		if days == 0 && stmt.Amount.Equal(txn.Amount) && identifiersAgree(stmt, txn) {
			return &models.MatchDecision{
				Statement: stmt,
				Tier:      models.TierExact,
				Candidate: txn,
				Reason:    exactReason(stmt, txn),
			}
		}
		if days <= e.config.DateWindowDays {
			probable = append(probable, txn)
		}
	}

	if len(probable) > 0 {
		best := pickNearest(stmt, probable)
		return &models.MatchDecision{
			Statement: stmt,
			Tier:      models.TierProbable,
			Candidate: best,
			Reason: fmt.Sprintf("amount match, date within %d day(s)",
				models.DaysBetween(stmt.Date, best.Date)),
		}
	}

	return &models.MatchDecision{
		Statement: stmt,
		Tier:      models.TierNoMatch,
		Reason:    "no amount match within date window",
	}
}

// amountsEqual compares signed amounts. Transfers and journal entries carry
// an unrecoverable direction, so they compare by magnitude.
func amountsEqual(stmt *models.StatementTransaction, txn *models.LedgerTransaction) bool {
	switch txn.EntityType {
	case models.EntityTransfer, models.EntityJournalEntry:
		return stmt.Amount.Abs().Equal(txn.Amount.Abs())
	default:
		return stmt.Amount.Equal(txn.Amount)
	}
}

// identifiersAgree checks the exact-tier identity requirement: FITID
// equality when both sides have one, else check number equality when both
// sides have one.
func identifiersAgree(stmt *models.StatementTransaction, txn *models.LedgerTransaction) bool {
	if stmt.FitID != "" && txn.FitID != "" && stmt.FitID == txn.FitID {
		return true
	}
	if stmt.CheckNumber != "" && txn.ReferenceNumber != "" && stmt.CheckNumber == txn.ReferenceNumber {
		return true
	}
	return false
}

func exactReason(stmt *models.StatementTransaction, txn *models.LedgerTransaction) string {
	if stmt.FitID != "" && stmt.FitID == txn.FitID {
		return "amount, date and FITID match"
	}
	return "amount, date and check number match"
}

// pickNearest selects the probable candidate with the smallest date
// distance, breaking ties by smallest numeric id. Non-numeric ids sort
// after numeric ones and compare lexically among themselves.
func pickNearest(stmt *models.StatementTransaction, candidates []*models.LedgerTransaction) *models.LedgerTransaction {
	sort.SliceStable(candidates, func(i, j int) bool {
		di := models.DaysBetween(stmt.Date, candidates[i].Date)
		dj := models.DaysBetween(stmt.Date, candidates[j].Date)
		if di != dj {
			return di < dj
		}

		ni, iNum := candidates[i].NumericID()
		nj, jNum := candidates[j].NumericID()
		switch {
		case iNum && jNum:
			return ni < nj
		case iNum:
			return true
		case jNum:
			return false
		default:
			return candidates[i].ID < candidates[j].ID
		}
	})
	return candidates[0]
}

func candidateKey(txn *models.LedgerTransaction) string {
	return string(txn.EntityType) + "/" + txn.ID
}

// Summary aggregates decision counts per tier.
type Summary struct {
	Total    int `json:"total"`
	Exact    int `json:"exact"`
	Probable int `json:"probable"`
	NoMatch  int `json:"no_match"`
}

// Summarize tallies decisions per tier.
func Summarize(decisions []*models.MatchDecision) Summary {
	s := Summary{Total: len(decisions)}
	for _, d := range decisions {
		switch d.Tier {
		case models.TierExact:
			s.Exact++
		case models.TierProbable:
			s.Probable++
		case models.TierNoMatch:
			s.NoMatch++
		}
	}
	return s
}
