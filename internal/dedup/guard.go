// Package dedup provides the idempotency guard for bank imports.
//
// Every statement transaction has a stable fingerprint derived from its
// identity tuple. The import executor embeds the fingerprint in the private
// note of each ledger transaction it creates; on later runs the guard
// harvests those fingerprints from the ledger snapshot and suppresses
// re-creation. This covers the partial-failure case where a create
// succeeded remotely but the matcher cannot see it as an exact match.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/claw4business/quickbooks-online-cli/internal/models"
)

// fingerprintTag prefixes the fingerprint inside a created transaction's
// private note. The note survives round trips through the remote ledger
// unmodified, which makes it the durable trace of an import.
const fingerprintTag = "qbimport:"

// Fingerprint computes the stable identity hash for a statement transaction
// in the context of one account: sha256 over (accountID, date, amount,
// fitid-or-checkNumber-or-descriptionHash).
func Fingerprint(accountID string, txn *models.StatementTransaction) string {
	payload := fmt.Sprintf("%s|%s|%s|%s",
		accountID,
		txn.Date.Format(models.DateFormat),
		txn.Amount.String(),
		txn.IdentityKey(),
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:16])
}

// Tag renders the fingerprint marker embedded in a created transaction's
// private note.
func Tag(fingerprint string) string {
	return fingerprintTag + fingerprint
}

// fitidTag carries the statement FITID inside the note so a later run can
// exact-match the created entry against the same statement line.
const fitidTag = "fitid:"

// ImportNote renders the private note for an import-created transaction:
// the statement description followed by the fingerprint and FITID markers.
func ImportNote(description, fingerprint, fitid string) string {
	note := "Imported: " + strings.TrimSpace(description) + " " + Tag(fingerprint)
	if fitid != "" {
		note += " " + fitidTag + fitid
	}
	return note
}

// ExtractFingerprint pulls a fingerprint out of a ledger transaction memo,
// returning "" when the memo carries no import tag.
func ExtractFingerprint(memo string) string {
	return extractMarker(memo, fingerprintTag)
}

// ExtractFitID pulls the original statement FITID out of a ledger
// transaction memo, returning "" when absent.
func ExtractFitID(memo string) string {
	return extractMarker(memo, fitidTag)
}

func extractMarker(memo, tag string) string {
	idx := strings.Index(memo, tag)
	if idx < 0 {
		return ""
	}
	rest := memo[idx+len(tag):]
	if end := strings.IndexAny(rest, " \t\n"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// Guard tracks the fingerprints of statement transactions that already
// produced a ledger entry in a prior run.
type Guard struct {
	seen map[string]string // fingerprint -> ledger transaction id
}

// NewGuard builds a guard from a ledger snapshot, harvesting the
// fingerprints of import-created transactions.
func NewGuard(snapshot []*models.LedgerTransaction) *Guard {
	g := &Guard{seen: make(map[string]string)}
	for _, txn := range snapshot {
		if txn.Fingerprint != "" {
			g.seen[txn.Fingerprint] = txn.ID
		}
	}
	return g
}

// Seen reports whether a prior run already created a ledger entry for this
// fingerprint, along with the ledger transaction id it produced.
func (g *Guard) Seen(fingerprint string) (string, bool) {
	id, ok := g.seen[fingerprint]
	return id, ok
}

// Record marks a fingerprint as applied within the current run so repeated
// statement lines with identical identity collapse to one creation.
func (g *Guard) Record(fingerprint, ledgerID string) {
	g.seen[fingerprint] = ledgerID
}

// Size returns the number of tracked fingerprints.
func (g *Guard) Size() int {
	return len(g.seen)
}
