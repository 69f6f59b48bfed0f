package dedup

import (
	"strings"
	"testing"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/models"
	"github.com/shopspring/decimal"
)

func statementTxn(dateStr, amount, desc, fitid, checkNum string) *models.StatementTransaction {
	d, err := time.Parse(models.DateFormat, dateStr)
	if err != nil {
		panic(err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	return &models.StatementTransaction{
		Date:        d,
		Amount:      amt,
		Description: desc,
		FitID:       fitid,
		CheckNumber: checkNum,
	}
}

func TestFingerprintStable(t *testing.T) {
	txn := statementTxn("2024-01-15", "-42.50", "COFFEE SHOP", "TXN-001", "")

	fp1 := Fingerprint("35", txn)
	fp2 := Fingerprint("35", txn)
	if fp1 != fp2 {
		t.Error("fingerprint must be deterministic")
	}
	if len(fp1) != 32 {
		t.Errorf("fingerprint length = %d, want 32 hex chars", len(fp1))
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	base := statementTxn("2024-01-15", "-42.50", "COFFEE SHOP", "TXN-001", "")

	variants := []*models.StatementTransaction{
		statementTxn("2024-01-16", "-42.50", "COFFEE SHOP", "TXN-001", ""),
		statementTxn("2024-01-15", "-43.50", "COFFEE SHOP", "TXN-001", ""),
		statementTxn("2024-01-15", "-42.50", "COFFEE SHOP", "TXN-002", ""),
	}

	fp := Fingerprint("35", base)
	for i, variant := range variants {
		if Fingerprint("35", variant) == fp {
			t.Errorf("variant %d should produce a different fingerprint", i)
		}
	}

	if Fingerprint("36", base) == fp {
		t.Error("different accounts should produce different fingerprints")
	}
}

func TestFingerprintFallsBackThroughIdentity(t *testing.T) {
	withFitID := statementTxn("2024-01-15", "-42.50", "COFFEE", "F1", "1042")
	withCheck := statementTxn("2024-01-15", "-42.50", "COFFEE", "", "1042")
	descOnly := statementTxn("2024-01-15", "-42.50", "COFFEE", "", "")

	if Fingerprint("35", withFitID) == Fingerprint("35", withCheck) {
		t.Error("fitid identity should differ from check number identity")
	}
	if Fingerprint("35", withCheck) == Fingerprint("35", descOnly) {
		t.Error("check number identity should differ from description identity")
	}
}

func TestImportNoteRoundTrip(t *testing.T) {
	note := ImportNote("COFFEE SHOP", "abc123", "TXN-001")

	if !strings.HasPrefix(note, "Imported: COFFEE SHOP") {
		t.Errorf("note should carry the description, got %q", note)
	}
	if got := ExtractFingerprint(note); got != "abc123" {
		t.Errorf("ExtractFingerprint() = %q, want abc123", got)
	}
	if got := ExtractFitID(note); got != "TXN-001" {
		t.Errorf("ExtractFitID() = %q, want TXN-001", got)
	}
}

func TestImportNoteWithoutFitID(t *testing.T) {
	note := ImportNote("CHECK 1042", "def456", "")

	if got := ExtractFingerprint(note); got != "def456" {
		t.Errorf("ExtractFingerprint() = %q, want def456", got)
	}
	if got := ExtractFitID(note); got != "" {
		t.Errorf("ExtractFitID() = %q, want empty", got)
	}
}

func TestExtractFromForeignMemo(t *testing.T) {
	if got := ExtractFingerprint("manually entered expense"); got != "" {
		t.Errorf("ExtractFingerprint() = %q, want empty for foreign memo", got)
	}
	if got := ExtractFingerprint(""); got != "" {
		t.Errorf("ExtractFingerprint() = %q, want empty for empty memo", got)
	}
}

func TestGuardHarvestsSnapshot(t *testing.T) {
	snapshot := []*models.LedgerTransaction{
		{ID: "101", Fingerprint: "fp-1"},
		{ID: "102", Fingerprint: ""},
		{ID: "103", Fingerprint: "fp-3"},
	}

	guard := NewGuard(snapshot)
	if guard.Size() != 2 {
		t.Errorf("Size() = %d, want 2", guard.Size())
	}

	id, seen := guard.Seen("fp-1")
	if !seen || id != "101" {
		t.Errorf("Seen(fp-1) = (%q, %v), want (101, true)", id, seen)
	}
	if _, seen := guard.Seen("fp-2"); seen {
		t.Error("unharvested fingerprint should not be seen")
	}
}

func TestGuardRecordWithinRun(t *testing.T) {
	guard := NewGuard(nil)

	if _, seen := guard.Seen("fp-new"); seen {
		t.Error("fresh guard should be empty")
	}

	guard.Record("fp-new", "205")
	id, seen := guard.Seen("fp-new")
	if !seen || id != "205" {
		t.Errorf("Seen() after Record = (%q, %v), want (205, true)", id, seen)
	}
}
