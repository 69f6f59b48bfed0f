package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/models"
	"github.com/claw4business/quickbooks-online-cli/internal/parsers"
	"github.com/claw4business/quickbooks-online-cli/internal/session"
	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	t, err := time.Parse(models.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

func amt(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func matchedSession() *session.Session {
	return &session.Session{
		AccountID:            "35",
		StatementDate:        date("2024-01-31"),
		StatementBalance:     amt("2057.50"),
		OpeningLedgerBalance: amt("800.00"),
		Status:               session.StatusMatched,
		MatchedCount:         2,
		MatchedCredits:       amt("1500.00"),
		MatchedDebits:        amt("242.50"),
		Discrepancies: []session.Discrepancy{
			{
				Kind:            session.DiscrepancyStatementOnly,
				Date:            date("2024-01-22"),
				Amount:          amt("-75.00"),
				Description:     "NEW VENDOR",
				SuggestedAction: "import this transaction or record it manually",
			},
			{
				Kind:            session.DiscrepancyProbable,
				Date:            date("2024-01-17"),
				Amount:          amt("-42.50"),
				Description:     "COFFEE SHOP",
				LedgerID:        "92",
				SuggestedAction: "review the suggested ledger match",
			},
			{
				Kind:            session.DiscrepancyLedgerOnly,
				Date:            date("2024-01-25"),
				Amount:          amt("-10.00"),
				Description:     "BANK FEE",
				LedgerID:        "95",
				SuggestedAction: "verify this entry against future statements",
			},
		},
		StartedAt: date("2024-02-01"),
		UpdatedAt: date("2024-02-01"),
	}
}

func TestBuildBalances(t *testing.T) {
	report := Build(matchedSession(), nil)

	if got := report.ReconciledBalance.String(); got != "2057.5" {
		t.Errorf("ReconciledBalance = %s, want 800 + 1500 - 242.50", got)
	}
	if !report.Residual.IsZero() {
		t.Errorf("Residual = %s, want 0", report.Residual)
	}
	if !report.Reconciles() {
		t.Error("zero residual should reconcile")
	}
}

func TestBuildResidual(t *testing.T) {
	sess := matchedSession()
	sess.StatementBalance = amt("2100.00")

	report := Build(sess, nil)
	if got := report.Residual.String(); got != "42.5" {
		t.Errorf("Residual = %s, want 42.5", got)
	}
	if report.Reconciles() {
		t.Error("nonzero residual must not reconcile")
	}
}

func TestBuildSummaryFromDecisions(t *testing.T) {
	decisions := []*models.MatchDecision{
		{Tier: models.TierExact},
		{Tier: models.TierProbable},
		{Tier: models.TierNoMatch},
	}

	report := Build(matchedSession(), decisions)
	if report.Summary.Total != 3 || report.Summary.Exact != 1 {
		t.Errorf("Summary = %+v, want counts from the decisions", report.Summary)
	}
}

func TestBuildSummaryFromSessionTallies(t *testing.T) {
	// Regenerating a report without decisions rebuilds the summary from the
	// recorded session state.
	report := Build(matchedSession(), nil)

	if report.Summary.Exact != 2 {
		t.Errorf("Exact = %d, want the session's matched count", report.Summary.Exact)
	}
	if report.Summary.Probable != 1 {
		t.Errorf("Probable = %d, want 1", report.Summary.Probable)
	}
	if report.Summary.NoMatch != 1 {
		t.Errorf("NoMatch = %d, want 1 statement-only discrepancy", report.Summary.NoMatch)
	}
	if report.Summary.Total != 4 {
		t.Errorf("Total = %d, want 4; ledger-only entries are not statement lines", report.Summary.Total)
	}
}

func TestFilterDiscrepancies(t *testing.T) {
	report := Build(matchedSession(), nil)

	report.FilterDiscrepancies(date("2024-01-20"), time.Time{})
	if len(report.Discrepancies) != 2 {
		t.Fatalf("got %d discrepancies, want 2 on or after the start date", len(report.Discrepancies))
	}

	report.FilterDiscrepancies(time.Time{}, date("2024-01-22"))
	if len(report.Discrepancies) != 1 || report.Discrepancies[0].Description != "NEW VENDOR" {
		t.Errorf("got %+v, want only the 2024-01-22 entry", report.Discrepancies)
	}
}

func TestRenderConsole(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(Build(matchedSession(), nil), FormatConsole, &buf); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"RECONCILIATION REPORT",
		"=== MATCHES ===",
		"=== BALANCES ===",
		"Reconciled Balance:     2057.50",
		"Statement reconciles with the ledger.",
		"Statement-only (missing from ledger) (1):",
		"Probable matches awaiting review (1):",
		"Ledger-only (not on statement) (1):",
		"ledger id: 92",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q\n%s", want, out)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(Build(matchedSession(), nil), FormatJSON, &buf); err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["account_id"] != "35" {
		t.Errorf("account_id = %v, want 35", decoded["account_id"])
	}
	if len(decoded["discrepancies"].([]interface{})) != 3 {
		t.Error("JSON output should carry all discrepancies")
	}
}

func TestRenderUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(Build(matchedSession(), nil), OutputFormat("yaml"), &buf); err == nil {
		t.Error("unsupported format should error")
	}
}

func TestOutputFormatIsValid(t *testing.T) {
	if !FormatConsole.IsValid() || !FormatJSON.IsValid() {
		t.Error("console and json are valid formats")
	}
	if OutputFormat("yaml").IsValid() {
		t.Error("yaml is not a valid format")
	}
}

func TestBuildSessionStatusDifference(t *testing.T) {
	sess := matchedSession()
	sess.StatementBalance = amt("2100.00")

	status := BuildSessionStatus(sess)
	if got := status.Difference.String(); got != "42.5" {
		t.Errorf("Difference = %s, want the session residual", got)
	}
	if status.Discrepancies != 3 {
		t.Errorf("Discrepancies = %d, want 3", status.Discrepancies)
	}

	var buf bytes.Buffer
	if err := RenderSessionStatus(status, FormatConsole, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Difference:        42.50") {
		t.Errorf("status output missing difference\n%s", buf.String())
	}
}

func TestBuildPreview(t *testing.T) {
	result := &parsers.ParseResult{
		Format:  parsers.FormatCSV,
		Skipped: 1,
		Transactions: []*models.StatementTransaction{
			{Date: date("2024-01-15"), Amount: amt("-42.50"), Description: "COFFEE SHOP"},
			{Date: date("2024-01-20"), Amount: amt("1500.00"), Description: "PAYROLL"},
		},
	}

	preview := BuildPreview(result)
	if preview.Count != 2 || preview.Skipped != 1 {
		t.Errorf("preview = %+v, want 2 transactions and 1 skipped", preview)
	}
	if got := preview.TotalDebits.String(); got != "-42.5" {
		t.Errorf("TotalDebits = %s, want -42.5", got)
	}
	if got := preview.TotalCredits.String(); got != "1500" {
		t.Errorf("TotalCredits = %s, want 1500", got)
	}
	if !preview.StartDate.Equal(date("2024-01-15")) || !preview.EndDate.Equal(date("2024-01-20")) {
		t.Errorf("date range = %v to %v", preview.StartDate, preview.EndDate)
	}

	var buf bytes.Buffer
	if err := RenderPreview(preview, FormatConsole, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "STATEMENT PREVIEW (csv)") || !strings.Contains(out, "Skipped Rows:  1") {
		t.Errorf("preview output unexpected\n%s", out)
	}
}

func TestRenderImportRunDryRun(t *testing.T) {
	run := &models.ImportRun{
		DryRun: true,
		Planned: []*models.MatchDecision{{
			Statement: &models.StatementTransaction{
				Date: date("2024-01-22"), Amount: amt("-75.00"), Description: "NEW VENDOR",
			},
			Tier: models.TierNoMatch,
		}},
		SkippedExact: 2,
	}

	var buf bytes.Buffer
	if err := RenderImportRun(run, FormatConsole, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, "IMPORT PLAN (dry run, no remote writes)") {
		t.Errorf("dry run header missing\n%s", out)
	}
	if !strings.Contains(out, "Would create:") || !strings.Contains(out, "NEW VENDOR") {
		t.Errorf("planned section missing\n%s", out)
	}
	if !strings.Contains(out, "Skipped (exact):  2") {
		t.Errorf("skip counts missing\n%s", out)
	}
}

func TestRenderImportRunLive(t *testing.T) {
	run := &models.ImportRun{
		Created: []models.CreatedEntry{{
			Statement: &models.StatementTransaction{
				Date: date("2024-01-22"), Amount: amt("-75.00"), Description: "NEW VENDOR",
			},
			LedgerID:   "201",
			EntityType: models.EntityPurchase,
		}},
		Failed: []models.FailedEntry{{
			Statement: &models.StatementTransaction{
				Date: date("2024-01-23"), Amount: amt("-10.00"), Description: "BAD",
			},
			Error: "rejected",
		}},
	}

	var buf bytes.Buffer
	if err := RenderImportRun(run, FormatConsole, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, "IMPORT RESULT") {
		t.Errorf("live header missing\n%s", out)
	}
	if !strings.Contains(out, "Purchase 201") {
		t.Errorf("created entry missing\n%s", out)
	}
	if !strings.Contains(out, "error: rejected") {
		t.Errorf("failure detail missing\n%s", out)
	}
}
