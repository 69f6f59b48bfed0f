package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the canonical calendar-date layout used throughout the
// import and reconciliation engine.
const DateFormat = "2006-01-02"

// LedgerEntityType identifies which ledger entity a transaction belongs to.
type LedgerEntityType string

const (
	EntityPurchase     LedgerEntityType = "Purchase"
	EntityDeposit      LedgerEntityType = "Deposit"
	EntityTransfer     LedgerEntityType = "Transfer"
	EntityJournalEntry LedgerEntityType = "JournalEntry"
)

// String returns the string representation of LedgerEntityType
func (t LedgerEntityType) String() string {
	return string(t)
}

// QueryEntities lists the ledger entities a snapshot fetch covers. The
// remote query language has no OR, so each entity is queried separately and
// the results deduplicated afterwards.
var QueryEntities = []LedgerEntityType{
	EntityPurchase,
	EntityDeposit,
	EntityTransfer,
	EntityJournalEntry,
}

// StatementTransaction is one line parsed from an imported bank statement
// file. It is immutable once parsed; positive amounts are credits/deposits,
// negative amounts are debits/purchases.
type StatementTransaction struct {
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	FitID       string          `json:"fitid,omitempty"`
	CheckNumber string          `json:"check_number,omitempty"`
}

// Validate performs basic validation on the StatementTransaction
func (st *StatementTransaction) Validate() error {
	if st.Date.IsZero() {
		return fmt.Errorf("statement transaction date cannot be zero")
	}

	if st.Amount.IsZero() {
		return fmt.Errorf("statement transaction amount cannot be zero")
	}

	return nil
}

// IsDebit returns true if the amount represents a debit (negative amount)
func (st *StatementTransaction) IsDebit() bool {
	return st.Amount.IsNegative()
}

// IsCredit returns true if the amount represents a credit (positive amount)
func (st *StatementTransaction) IsCredit() bool {
	return st.Amount.IsPositive()
}

// IdentityKey returns the stable portion of the transaction identity used
// for fingerprinting: the FITID when present, the check number otherwise,
// and a hash of the description as the last resort.
func (st *StatementTransaction) IdentityKey() string {
	if st.FitID != "" {
		return st.FitID
	}
	if st.CheckNumber != "" {
		return st.CheckNumber
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(strings.ToLower(st.Description))))
	return hex.EncodeToString(sum[:8])
}

// String returns a string representation of the StatementTransaction
func (st *StatementTransaction) String() string {
	return fmt.Sprintf("StatementTransaction{Date: %s, Amount: %s, Description: %q}",
		st.Date.Format(DateFormat), st.Amount.String(), st.Description)
}

// LedgerTransaction is a transaction already recorded in the remote ledger.
// The remote system owns these records; this system only reads them and
// creates new ones through the import executor.
type LedgerTransaction struct {
	ID              string           `json:"id"`
	EntityType      LedgerEntityType `json:"entity_type"`
	Date            time.Time        `json:"date"`
	Amount          decimal.Decimal  `json:"amount"`
	ReferenceNumber string           `json:"reference_number,omitempty"`
	Memo            string           `json:"memo,omitempty"`
	FitID           string           `json:"fitid,omitempty"`
	CreatedByImport bool             `json:"created_by_import"`
	Fingerprint     string           `json:"fingerprint,omitempty"`
}

// NumericID parses the ledger transaction id as an integer for deterministic
// ordering. Non-numeric ids sort after all numeric ones.
func (lt *LedgerTransaction) NumericID() (int64, bool) {
	id, err := strconv.ParseInt(lt.ID, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// String returns a string representation of the LedgerTransaction
func (lt *LedgerTransaction) String() string {
	return fmt.Sprintf("LedgerTransaction{ID: %s, Type: %s, Date: %s, Amount: %s}",
		lt.ID, lt.EntityType, lt.Date.Format(DateFormat), lt.Amount.String())
}

// MatchTier classifies the quality of a statement-to-ledger match.
type MatchTier string

const (
	// TierExact means identical amount and date plus a FITID or check
	// number agreement. Exact matches are skipped by the import executor.
	TierExact MatchTier = "exact"
	// TierProbable means identical amount with a date inside the matching
	// window. Probable matches are flagged for review, never auto-applied.
	TierProbable MatchTier = "probable"
	// TierNoMatch means no candidate qualified; the import executor
	// creates a new ledger transaction for these.
	TierNoMatch MatchTier = "no_match"
)

// IsValid checks if the match tier is a known value
func (t MatchTier) IsValid() bool {
	switch t {
	case TierExact, TierProbable, TierNoMatch:
		return true
	default:
		return false
	}
}

// MatchDecision is the matcher's verdict for one statement transaction.
// Decisions are ephemeral: they are recomputed on every run and never
// persisted independently of a session.
type MatchDecision struct {
	Statement *StatementTransaction `json:"statement"`
	Tier      MatchTier             `json:"tier"`
	Candidate *LedgerTransaction    `json:"candidate,omitempty"`
	Reason    string                `json:"reason"`
}

// CreatedEntry records one successful ledger creation during an import run.
type CreatedEntry struct {
	Statement  *StatementTransaction `json:"statement"`
	LedgerID   string                `json:"ledger_id"`
	EntityType LedgerEntityType      `json:"entity_type"`
}

// FailedEntry records one per-item creation failure during an import run.
type FailedEntry struct {
	Statement *StatementTransaction `json:"statement"`
	Error     string                `json:"error"`
}

// ImportRun is the ephemeral record of one import invocation. Only the
// fingerprints embedded in created ledger transactions survive the process.
type ImportRun struct {
	DryRun          bool             `json:"dry_run"`
	Created         []CreatedEntry   `json:"created"`
	Planned         []*MatchDecision `json:"planned,omitempty"`
	Failed          []FailedEntry    `json:"failed,omitempty"`
	SkippedExact    int              `json:"skipped_exact"`
	SkippedSeen     int              `json:"skipped_seen"`
	FlaggedProbable []*MatchDecision `json:"flagged_probable"`
}

// DateRange is an inclusive calendar-date window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether d falls inside the range, inclusive on both ends.
func (r DateRange) Contains(d time.Time) bool {
	day := TruncateToDay(d)
	return !day.Before(TruncateToDay(r.Start)) && !day.After(TruncateToDay(r.End))
}

// Expand widens the range by days on both sides.
func (r DateRange) Expand(days int) DateRange {
	return DateRange{
		Start: r.Start.AddDate(0, 0, -days),
		End:   r.End.AddDate(0, 0, days),
	}
}

func (r DateRange) String() string {
	return r.Start.Format(DateFormat) + ".." + r.End.Format(DateFormat)
}

// TruncateToDay normalizes a timestamp to midnight UTC so date comparisons
// ignore time-of-day and zone information carried by some statement formats.
func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between two dates.
func DaysBetween(a, b time.Time) int {
	diff := int(TruncateToDay(a).Sub(TruncateToDay(b)).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}

// Utility functions for type conversion and validation

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Remove common currency symbols and thousand separators
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	// Bank exports sometimes wrap debits in parentheses
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseDateWithFormats attempts to parse a calendar date from string using
// the formats commonly seen in bank statement exports.
func ParseDateWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		DateFormat,            // "2006-01-02"
		time.RFC3339,          // "2006-01-02T15:04:05Z07:00"
		"2006-01-02 15:04:05", // "2006-01-02 15:04:05"
		"01/02/2006",          // "01/02/2006"
		"1/2/2006",            // "1/2/2006"
		"02-01-2006",          // "02-01-2006"
		"2006/01/02",          // "2006/01/02"
		"Jan 2, 2006",         // "Jan 2, 2006"
		"20060102",            // OFX-style compact date
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return TruncateToDay(t), nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
