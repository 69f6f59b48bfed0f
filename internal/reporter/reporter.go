// Package reporter renders reconciliation and import results.
//
// Builders are pure: they assemble report values from session state and
// match decisions without touching the ledger or the store. Renderers write
// either human-readable console output or indented JSON for scripting.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/matcher"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
	"github.com/claw4business/quickbooks-online-cli/internal/parsers"
	"github.com/claw4business/quickbooks-online-cli/internal/session"
	"github.com/shopspring/decimal"
)

// OutputFormat selects the rendering style.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
)

// IsValid checks if the output format is supported.
func (f OutputFormat) IsValid() bool {
	return f == FormatConsole || f == FormatJSON
}

// ReconciliationReport is the full reconciliation picture for one session.
type ReconciliationReport struct {
	AccountID         string                `json:"account_id"`
	StatementDate     time.Time             `json:"statement_date"`
	Status            session.Status        `json:"status"`
	OpeningBalance    decimal.Decimal       `json:"opening_balance"`
	MatchedCredits    decimal.Decimal       `json:"matched_credits"`
	MatchedDebits     decimal.Decimal       `json:"matched_debits"`
	ReconciledBalance decimal.Decimal       `json:"reconciled_balance"`
	StatementBalance  decimal.Decimal       `json:"statement_balance"`
	Residual          decimal.Decimal       `json:"residual"`
	Summary           matcher.Summary       `json:"summary"`
	Discrepancies     []session.Discrepancy `json:"discrepancies,omitempty"`
	GeneratedAt       time.Time             `json:"generated_at"`
}

// Reconciles reports whether the statement balance is fully explained by
// the ledger.
func (r *ReconciliationReport) Reconciles() bool {
	return r.Residual.IsZero()
}

// Build assembles a reconciliation report from session state and the
// decisions of the most recent match run. It performs no I/O. With nil
// decisions the tier summary is reconstructed from the session's recorded
// tallies, so a report can be regenerated without re-running the matcher.
func Build(sess *session.Session, decisions []*models.MatchDecision) *ReconciliationReport {
	summary := matcher.Summarize(decisions)
	if decisions == nil {
		summary = summaryFromSession(sess)
	}
	return &ReconciliationReport{
		AccountID:         sess.AccountID,
		StatementDate:     sess.StatementDate,
		Status:            sess.Status,
		OpeningBalance:    sess.OpeningLedgerBalance,
		MatchedCredits:    sess.MatchedCredits,
		MatchedDebits:     sess.MatchedDebits,
		ReconciledBalance: sess.ReconciledBalance(),
		StatementBalance:  sess.StatementBalance,
		Residual:          sess.Residual(),
		Summary:           summary,
		Discrepancies:     sess.Discrepancies,
		GeneratedAt:       time.Now().UTC(),
	}
}

// summaryFromSession rebuilds the tier tallies recorded by the last match
// run.
func summaryFromSession(sess *session.Session) matcher.Summary {
	s := matcher.Summary{Exact: sess.MatchedCount}
	for _, d := range sess.Discrepancies {
		switch d.Kind {
		case session.DiscrepancyProbable:
			s.Probable++
		case session.DiscrepancyStatementOnly:
			s.NoMatch++
		}
	}
	s.Total = s.Exact + s.Probable + s.NoMatch
	return s
}

// FilterDiscrepancies narrows the discrepancy list to the inclusive date
// range. Zero bounds leave that side open.
func (r *ReconciliationReport) FilterDiscrepancies(start, end time.Time) {
	filtered := make([]session.Discrepancy, 0, len(r.Discrepancies))
	for _, d := range r.Discrepancies {
		if !start.IsZero() && d.Date.Before(start) {
			continue
		}
		if !end.IsZero() && d.Date.After(end) {
			continue
		}
		filtered = append(filtered, d)
	}
	r.Discrepancies = filtered
}

// Render writes the report in the requested format.
func Render(report *ReconciliationReport, format OutputFormat, w io.Writer) error {
	switch format {
	case FormatJSON:
		return renderJSON(report, w)
	case FormatConsole:
		return renderConsole(report, w)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func renderJSON(v interface{}, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderConsole(report *ReconciliationReport, w io.Writer) error {
	fmt.Fprintf(w, "RECONCILIATION REPORT\n")
	fmt.Fprintf(w, "Account:        %s\n", report.AccountID)
	fmt.Fprintf(w, "Statement Date: %s\n", report.StatementDate.Format(models.DateFormat))
	fmt.Fprintf(w, "Status:         %s\n", report.Status)
	fmt.Fprintf(w, "Generated:      %s\n\n", report.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(w, "=== MATCHES ===\n")
	fmt.Fprintf(w, "Statement Transactions: %d\n", report.Summary.Total)
	fmt.Fprintf(w, "  Exact:    %d\n", report.Summary.Exact)
	fmt.Fprintf(w, "  Probable: %d\n", report.Summary.Probable)
	fmt.Fprintf(w, "  No Match: %d\n\n", report.Summary.NoMatch)

	fmt.Fprintf(w, "=== BALANCES ===\n")
	fmt.Fprintf(w, "Opening Ledger Balance: %s\n", report.OpeningBalance.StringFixed(2))
	fmt.Fprintf(w, "Matched Credits:        %s\n", report.MatchedCredits.StringFixed(2))
	fmt.Fprintf(w, "Matched Debits:         %s\n", report.MatchedDebits.StringFixed(2))
	fmt.Fprintf(w, "Reconciled Balance:     %s\n", report.ReconciledBalance.StringFixed(2))
	fmt.Fprintf(w, "Statement Balance:      %s\n", report.StatementBalance.StringFixed(2))
	fmt.Fprintf(w, "Residual:               %s\n\n", report.Residual.StringFixed(2))

	if report.Reconciles() {
		fmt.Fprintf(w, "Statement reconciles with the ledger.\n")
	} else {
		fmt.Fprintf(w, "Statement does NOT reconcile; residual %s unexplained.\n",
			report.Residual.StringFixed(2))
	}

	if len(report.Discrepancies) > 0 {
		fmt.Fprintf(w, "\n=== DISCREPANCIES (%d) ===\n", len(report.Discrepancies))
		printDiscrepancies(report.Discrepancies, w)
	}

	return nil
}

func printDiscrepancies(discrepancies []session.Discrepancy, w io.Writer) {
	groups := make(map[session.DiscrepancyKind][]session.Discrepancy)
	for _, d := range discrepancies {
		groups[d.Kind] = append(groups[d.Kind], d)
	}

	order := []session.DiscrepancyKind{
		session.DiscrepancyStatementOnly,
		session.DiscrepancyProbable,
		session.DiscrepancyLedgerOnly,
	}
	labels := map[session.DiscrepancyKind]string{
		session.DiscrepancyStatementOnly: "Statement-only (missing from ledger)",
		session.DiscrepancyProbable:      "Probable matches awaiting review",
		session.DiscrepancyLedgerOnly:    "Ledger-only (not on statement)",
	}

	for _, kind := range order {
		items := groups[kind]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s (%d):\n", labels[kind], len(items))
		for i, d := range items {
			fmt.Fprintf(w, "  %d. %s  %s  %s\n",
				i+1, d.Date.Format(models.DateFormat), d.Amount.StringFixed(2), d.Description)
			if d.LedgerID != "" {
				fmt.Fprintf(w, "     ledger id: %s\n", d.LedgerID)
			}
			fmt.Fprintf(w, "     action: %s\n", d.SuggestedAction)
		}
	}
}

// SessionStatus is the compact view rendered by `reconcile status` and
// `reconcile start`.
type SessionStatus struct {
	AccountID        string          `json:"account_id"`
	StatementDate    time.Time       `json:"statement_date"`
	Status           session.Status  `json:"status"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	Difference       decimal.Decimal `json:"difference"`
	MatchedCount     int             `json:"matched_count"`
	Discrepancies    int             `json:"discrepancies"`
	StartedAt        time.Time       `json:"started_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// BuildSessionStatus projects a session into its status view. Difference is
// the statement balance against the current reconciled ledger balance, so a
// freshly started session shows the full statement-vs-opening gap.
func BuildSessionStatus(sess *session.Session) *SessionStatus {
	return &SessionStatus{
		AccountID:        sess.AccountID,
		StatementDate:    sess.StatementDate,
		Status:           sess.Status,
		StatementBalance: sess.StatementBalance,
		OpeningBalance:   sess.OpeningLedgerBalance,
		Difference:       sess.Residual(),
		MatchedCount:     sess.MatchedCount,
		Discrepancies:    len(sess.Discrepancies),
		StartedAt:        sess.StartedAt,
		UpdatedAt:        sess.UpdatedAt,
	}
}

// RenderSessionStatus writes the status view in the requested format.
func RenderSessionStatus(status *SessionStatus, format OutputFormat, w io.Writer) error {
	if format == FormatJSON {
		return renderJSON(status, w)
	}

	fmt.Fprintf(w, "Account:           %s\n", status.AccountID)
	fmt.Fprintf(w, "Statement Date:    %s\n", status.StatementDate.Format(models.DateFormat))
	fmt.Fprintf(w, "Status:            %s\n", status.Status)
	fmt.Fprintf(w, "Statement Balance: %s\n", status.StatementBalance.StringFixed(2))
	fmt.Fprintf(w, "Opening Balance:   %s\n", status.OpeningBalance.StringFixed(2))
	fmt.Fprintf(w, "Difference:        %s\n", status.Difference.StringFixed(2))
	if status.Status != session.StatusStarted {
		fmt.Fprintf(w, "Matched:           %d\n", status.MatchedCount)
		fmt.Fprintf(w, "Discrepancies:     %d\n", status.Discrepancies)
	}
	fmt.Fprintf(w, "Started:           %s\n", status.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:           %s\n", status.UpdatedAt.Format(time.RFC3339))
	return nil
}

// PreviewReport summarizes a parsed statement before any remote work.
type PreviewReport struct {
	Format       parsers.Format                 `json:"format"`
	Count        int                            `json:"count"`
	Skipped      int                            `json:"skipped"`
	TotalDebits  decimal.Decimal                `json:"total_debits"`
	TotalCredits decimal.Decimal                `json:"total_credits"`
	StartDate    time.Time                      `json:"start_date"`
	EndDate      time.Time                      `json:"end_date"`
	Transactions []*models.StatementTransaction `json:"transactions"`
}

// BuildPreview assembles the preview summary for a parse result.
func BuildPreview(result *parsers.ParseResult) *PreviewReport {
	window := result.DateRange()
	return &PreviewReport{
		Format:       result.Format,
		Count:        len(result.Transactions),
		Skipped:      result.Skipped,
		TotalDebits:  result.TotalDebits(),
		TotalCredits: result.TotalCredits(),
		StartDate:    window.Start,
		EndDate:      window.End,
		Transactions: result.Transactions,
	}
}

// RenderPreview writes the preview in the requested format.
func RenderPreview(preview *PreviewReport, format OutputFormat, w io.Writer) error {
	if format == FormatJSON {
		return renderJSON(preview, w)
	}

	fmt.Fprintf(w, "STATEMENT PREVIEW (%s)\n", preview.Format)
	fmt.Fprintf(w, "Transactions:  %d\n", preview.Count)
	if preview.Skipped > 0 {
		fmt.Fprintf(w, "Skipped Rows:  %d\n", preview.Skipped)
	}
	fmt.Fprintf(w, "Date Range:    %s to %s\n",
		preview.StartDate.Format(models.DateFormat), preview.EndDate.Format(models.DateFormat))
	fmt.Fprintf(w, "Total Debits:  %s\n", preview.TotalDebits.StringFixed(2))
	fmt.Fprintf(w, "Total Credits: %s\n\n", preview.TotalCredits.StringFixed(2))

	for i, stmt := range preview.Transactions {
		fmt.Fprintf(w, "  %d. %s  %10s  %s\n",
			i+1, stmt.Date.Format(models.DateFormat), stmt.Amount.StringFixed(2), stmt.Description)
	}
	return nil
}

// RenderImportRun writes the outcome of an import run in the requested
// format.
func RenderImportRun(run *models.ImportRun, format OutputFormat, w io.Writer) error {
	if format == FormatJSON {
		return renderJSON(run, w)
	}

	if run.DryRun {
		fmt.Fprintf(w, "IMPORT PLAN (dry run, no remote writes)\n")
	} else {
		fmt.Fprintf(w, "IMPORT RESULT\n")
	}
	fmt.Fprintf(w, "Created:          %d\n", len(run.Created))
	fmt.Fprintf(w, "Planned:          %d\n", len(run.Planned))
	fmt.Fprintf(w, "Failed:           %d\n", len(run.Failed))
	fmt.Fprintf(w, "Skipped (exact):  %d\n", run.SkippedExact)
	fmt.Fprintf(w, "Skipped (seen):   %d\n", run.SkippedSeen)
	fmt.Fprintf(w, "Flagged probable: %d\n", len(run.FlaggedProbable))

	if len(run.Planned) > 0 {
		fmt.Fprintf(w, "\nWould create:\n")
		for i, decision := range run.Planned {
			stmt := decision.Statement
			fmt.Fprintf(w, "  %d. %s  %10s  %s\n",
				i+1, stmt.Date.Format(models.DateFormat), stmt.Amount.StringFixed(2), stmt.Description)
		}
	}

	if len(run.Created) > 0 {
		fmt.Fprintf(w, "\nCreated entries:\n")
		for i, entry := range run.Created {
			fmt.Fprintf(w, "  %d. %s %s for %s on %s\n",
				i+1, entry.EntityType, entry.LedgerID,
				entry.Statement.Amount.StringFixed(2),
				entry.Statement.Date.Format(models.DateFormat))
		}
	}

	if len(run.FlaggedProbable) > 0 {
		fmt.Fprintf(w, "\nFlagged for review (not imported):\n")
		for i, decision := range run.FlaggedProbable {
			stmt := decision.Statement
			fmt.Fprintf(w, "  %d. %s  %10s  %s (candidate ledger id %s)\n",
				i+1, stmt.Date.Format(models.DateFormat), stmt.Amount.StringFixed(2),
				stmt.Description, decision.Candidate.ID)
		}
	}

	if len(run.Failed) > 0 {
		fmt.Fprintf(w, "\nFailed creates:\n")
		for i, failure := range run.Failed {
			stmt := failure.Statement
			fmt.Fprintf(w, "  %d. %s  %10s  %s\n     error: %s\n",
				i+1, stmt.Date.Format(models.DateFormat), stmt.Amount.StringFixed(2),
				stmt.Description, failure.Error)
		}
	}

	return nil
}
