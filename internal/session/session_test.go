package session

import (
	"context"
	"testing"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/claw4business/quickbooks-online-cli/internal/matcher"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
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

// fakeGateway serves a fixed ledger regardless of the query window bounds,
// filtered to the window.
type fakeGateway struct {
	txns []*models.LedgerTransaction
}

func (f *fakeGateway) QueryTransactions(ctx context.Context, accountID string, window models.DateRange) ([]*models.LedgerTransaction, error) {
	var out []*models.LedgerTransaction
	for _, txn := range f.txns {
		if window.Contains(txn.Date) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (f *fakeGateway) CreateTransaction(ctx context.Context, req *ledger.CreateRequest) (*models.LedgerTransaction, error) {
	panic("session manager must not create transactions")
}

func newTestManager(t *testing.T, gw ledger.Gateway) (*Manager, Store) {
	t.Helper()
	engine, err := matcher.NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	store := NewMemoryStore()
	reader := ledger.NewSnapshotReader(gw, &ledger.ReaderConfig{MaxRetries: 0, Backoff: time.Millisecond})
	return NewManager(store, reader, engine), store
}

func TestStartComputesOpeningBalance(t *testing.T) {
	gw := &fakeGateway{txns: []*models.LedgerTransaction{
		// Activity before the statement month counts toward opening.
		{ID: "1", EntityType: models.EntityDeposit, Date: date("2023-12-10"), Amount: amt("1000.00")},
		{ID: "2", EntityType: models.EntityPurchase, Date: date("2023-12-20"), Amount: amt("-200.00")},
		// In-period activity must not.
		{ID: "3", EntityType: models.EntityDeposit, Date: date("2024-01-10"), Amount: amt("500.00")},
	}}
	mgr, _ := newTestManager(t, gw)

	sess, err := mgr.Start(context.Background(), "35", date("2024-01-31"), amt("1300.00"), false)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if sess.Status != StatusStarted {
		t.Errorf("Status = %s, want started", sess.Status)
	}
	if got := sess.OpeningLedgerBalance.String(); got != "800" {
		t.Errorf("OpeningLedgerBalance = %s, want 800", got)
	}
	if got := sess.Residual().String(); got != "500" {
		t.Errorf("Residual() = %s, want 500 before matching", got)
	}
}

func TestStartTwiceWithoutResetFails(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeGateway{})
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("100.00"), false); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}

	_, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("100.00"), false)
	if err == nil {
		t.Fatal("second Start() should fail without reset")
	}
	qbErr, ok := qberrors.AsQBError(err)
	if !ok || qbErr.Code != qberrors.CodeSessionExists {
		t.Errorf("error = %v, want %s", err, qberrors.CodeSessionExists)
	}

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("100.00"), true); err != nil {
		t.Errorf("Start() with reset should succeed, got %v", err)
	}
}

func TestStatusReturnsLatest(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeGateway{})
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("100.00"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Start(ctx, "35", date("2024-02-29"), amt("200.00"), false); err != nil {
		t.Fatal(err)
	}

	sess, err := mgr.Status(ctx, "35")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !sess.StatementDate.Equal(date("2024-02-29")) {
		t.Errorf("StatementDate = %v, want the most recent session", sess.StatementDate)
	}
}

func TestStatusWithoutSession(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeGateway{})

	_, err := mgr.Status(context.Background(), "unknown")
	if err == nil {
		t.Fatal("Status() should fail for an account with no sessions")
	}
	qbErr, ok := qberrors.AsQBError(err)
	if !ok || qbErr.GetExitCode() != 4 {
		t.Errorf("missing session should exit 4, got %v", err)
	}
}

func TestMatchRecordsTalliesAndDiscrepancies(t *testing.T) {
	gw := &fakeGateway{txns: []*models.LedgerTransaction{
		// Exact match for the check.
		{ID: "10", EntityType: models.EntityPurchase, Date: date("2024-01-18"),
			Amount: amt("-250.00"), ReferenceNumber: "1042"},
		// Probable candidate two days off.
		{ID: "11", EntityType: models.EntityPurchase, Date: date("2024-01-17"),
			Amount: amt("-42.50")},
		// Ledger-only entry nothing on the statement claims.
		{ID: "12", EntityType: models.EntityDeposit, Date: date("2024-01-19"),
			Amount: amt("999.00")},
	}}
	mgr, _ := newTestManager(t, gw)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("1000.00"), false); err != nil {
		t.Fatal(err)
	}

	statements := []*models.StatementTransaction{
		{Date: date("2024-01-18"), Amount: amt("-250.00"), CheckNumber: "1042", Description: "CHECK 1042"},
		{Date: date("2024-01-15"), Amount: amt("-42.50"), FitID: "X1", Description: "COFFEE"},
		{Date: date("2024-01-22"), Amount: amt("-75.00"), Description: "NEW VENDOR"},
	}

	sess, decisions, err := mgr.Match(ctx, "35", statements, 3)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}

	if sess.Status != StatusMatched {
		t.Errorf("Status = %s, want matched", sess.Status)
	}
	if sess.MatchedCount != 1 {
		t.Errorf("MatchedCount = %d, want 1", sess.MatchedCount)
	}
	if got := sess.MatchedDebits.String(); got != "250" {
		t.Errorf("MatchedDebits = %s, want 250", got)
	}
	if len(decisions) != 3 {
		t.Errorf("decisions = %d, want 3", len(decisions))
	}

	kinds := make(map[DiscrepancyKind]int)
	for _, d := range sess.Discrepancies {
		kinds[d.Kind]++
	}
	if kinds[DiscrepancyProbable] != 1 {
		t.Errorf("probable discrepancies = %d, want 1", kinds[DiscrepancyProbable])
	}
	if kinds[DiscrepancyStatementOnly] != 1 {
		t.Errorf("statement-only discrepancies = %d, want 1", kinds[DiscrepancyStatementOnly])
	}
	if kinds[DiscrepancyLedgerOnly] != 1 {
		t.Errorf("ledger-only discrepancies = %d, want 1", kinds[DiscrepancyLedgerOnly])
	}
}

func TestMatchLedgerOnlyScopedToStatementPeriod(t *testing.T) {
	gw := &fakeGateway{txns: []*models.LedgerTransaction{
		// Inside the tolerance-expanded query window but before the first
		// statement line; must not be reported.
		{ID: "40", EntityType: models.EntityPurchase, Date: date("2024-01-08"),
			Amount: amt("-19.99")},
		// In-period and unclaimed; must be reported.
		{ID: "41", EntityType: models.EntityPurchase, Date: date("2024-01-12"),
			Amount: amt("-88.00")},
	}}
	mgr, _ := newTestManager(t, gw)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("0.00"), false); err != nil {
		t.Fatal(err)
	}

	statements := []*models.StatementTransaction{
		{Date: date("2024-01-10"), Amount: amt("-42.50"), Description: "FIRST"},
		{Date: date("2024-01-20"), Amount: amt("-75.00"), Description: "LAST"},
	}

	sess, _, err := mgr.Match(ctx, "35", statements, 3)
	if err != nil {
		t.Fatalf("Match() error: %v", err)
	}

	var ledgerOnly []Discrepancy
	for _, d := range sess.Discrepancies {
		if d.Kind == DiscrepancyLedgerOnly {
			ledgerOnly = append(ledgerOnly, d)
		}
	}
	if len(ledgerOnly) != 1 {
		t.Fatalf("ledger-only discrepancies = %d, want 1", len(ledgerOnly))
	}
	if ledgerOnly[0].LedgerID != "41" {
		t.Errorf("ledger-only entry = %s, want the in-period transaction 41", ledgerOnly[0].LedgerID)
	}
}

func TestMatchRefreshable(t *testing.T) {
	gw := &fakeGateway{txns: []*models.LedgerTransaction{
		{ID: "20", EntityType: models.EntityPurchase, Date: date("2024-01-15"),
			Amount: amt("-42.50"), FitID: "X1"},
	}}
	mgr, _ := newTestManager(t, gw)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("0.00"), false); err != nil {
		t.Fatal(err)
	}

	statements := []*models.StatementTransaction{
		{Date: date("2024-01-15"), Amount: amt("-42.50"), FitID: "X1"},
	}

	if _, _, err := mgr.Match(ctx, "35", statements, 3); err != nil {
		t.Fatalf("first Match() error: %v", err)
	}
	sess, _, err := mgr.Match(ctx, "35", statements, 3)
	if err != nil {
		t.Fatalf("repeat Match() error: %v", err)
	}

	// Tallies must not double-count across refreshes.
	if sess.MatchedCount != 1 {
		t.Errorf("MatchedCount after refresh = %d, want 1", sess.MatchedCount)
	}
	if got := sess.MatchedDebits.String(); got != "42.5" {
		t.Errorf("MatchedDebits after refresh = %s, want 42.5", got)
	}
}

func TestReportRequiresMatch(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeGateway{})
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("0.00"), false); err != nil {
		t.Fatal(err)
	}

	_, err := mgr.MarkReported(ctx, "35")
	if err == nil {
		t.Fatal("MarkReported() should fail before a match run")
	}
	qbErr, ok := qberrors.AsQBError(err)
	if !ok || qbErr.Code != qberrors.CodeInvalidTransition {
		t.Errorf("error = %v, want %s", err, qberrors.CodeInvalidTransition)
	}
}

func TestLifecycleToClosed(t *testing.T) {
	gw := &fakeGateway{txns: []*models.LedgerTransaction{
		{ID: "30", EntityType: models.EntityPurchase, Date: date("2024-01-15"),
			Amount: amt("-42.50"), FitID: "X1"},
	}}
	mgr, _ := newTestManager(t, gw)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("0.00"), false); err != nil {
		t.Fatal(err)
	}
	statements := []*models.StatementTransaction{
		{Date: date("2024-01-15"), Amount: amt("-42.50"), FitID: "X1"},
	}
	if _, _, err := mgr.Match(ctx, "35", statements, 3); err != nil {
		t.Fatal(err)
	}

	sess, err := mgr.MarkReported(ctx, "35")
	if err != nil {
		t.Fatalf("MarkReported() error: %v", err)
	}
	if sess.Status != StatusReported {
		t.Errorf("Status = %s, want reported", sess.Status)
	}

	// Reporting again is idempotent.
	if _, err := mgr.MarkReported(ctx, "35"); err != nil {
		t.Errorf("repeat MarkReported() error: %v", err)
	}

	sess, err = mgr.Close(ctx, "35", date("2024-01-31"))
	if err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if sess.Status != StatusClosed {
		t.Errorf("Status = %s, want closed", sess.Status)
	}

	// Closed is terminal.
	if _, _, err := mgr.Match(ctx, "35", statements, 3); err == nil {
		t.Error("Match() on a closed session should fail")
	}
	if _, err := mgr.Close(ctx, "35", date("2024-01-31")); err == nil {
		t.Error("closing twice should fail")
	}
}

func TestCloseMissingSession(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeGateway{})

	_, err := mgr.Close(context.Background(), "35", date("2024-01-31"))
	if err == nil {
		t.Fatal("Close() should fail for a missing session")
	}
	qbErr, ok := qberrors.AsQBError(err)
	if !ok || qbErr.Code != qberrors.CodeSessionNotFound {
		t.Errorf("error = %v, want %s", err, qberrors.CodeSessionNotFound)
	}
}

func TestMatchEmptyStatementFails(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeGateway{})
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "35", date("2024-01-31"), amt("0.00"), false); err != nil {
		t.Fatal(err)
	}

	if _, _, err := mgr.Match(ctx, "35", nil, 3); err == nil {
		t.Error("Match() with no statement transactions should fail")
	}
}
