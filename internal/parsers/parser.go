// Package parsers decodes bank statement files into canonical statement
// transactions.
//
// Two families of formats are supported:
//   - Financial-exchange markup (OFX, QFX, QBO) parsed with ofxgo, where
//     date, amount, FITID, check number and memo map directly.
//   - Delimited text (CSV) with a caller-supplied column mapping.
//
// Parsing is tolerant: malformed records are skipped and counted rather
// than aborting the file, and a file only fails when it yields zero valid
// transactions.
package parsers

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/shopspring/decimal"
)

// Format identifies a statement file format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatOFX  Format = "ofx"
	FormatQFX  Format = "qfx"
	FormatQBO  Format = "qbo"
	FormatCSV  Format = "csv"
)

// IsValid checks if the format is supported
func (f Format) IsValid() bool {
	switch f {
	case FormatAuto, FormatOFX, FormatQFX, FormatQBO, FormatCSV:
		return true
	default:
		return false
	}
}

// isExchange reports whether the format is financial-exchange markup.
// QFX and QBO are vendor dialects of OFX and share one parser.
func (f Format) isExchange() bool {
	return f == FormatOFX || f == FormatQFX || f == FormatQBO
}

// ParseResult holds the outcome of parsing one statement file.
type ParseResult struct {
	Transactions []*models.StatementTransaction `json:"transactions"`
	Skipped      int                            `json:"skipped"`
	Format       Format                         `json:"format"`
}

// DateRange returns the inclusive calendar window covered by the parsed
// transactions.
func (pr *ParseResult) DateRange() models.DateRange {
	if len(pr.Transactions) == 0 {
		return models.DateRange{}
	}

	r := models.DateRange{Start: pr.Transactions[0].Date, End: pr.Transactions[0].Date}
	for _, txn := range pr.Transactions[1:] {
		if txn.Date.Before(r.Start) {
			r.Start = txn.Date
		}
		if txn.Date.After(r.End) {
			r.End = txn.Date
		}
	}
	return r
}

// TotalDebits returns the sum of all negative amounts.
func (pr *ParseResult) TotalDebits() decimal.Decimal {
	total := decimal.Zero
	for _, txn := range pr.Transactions {
		if txn.IsDebit() {
			total = total.Add(txn.Amount)
		}
	}
	return total
}

// TotalCredits returns the sum of all non-negative amounts.
func (pr *ParseResult) TotalCredits() decimal.Decimal {
	total := decimal.Zero
	for _, txn := range pr.Transactions {
		if !txn.IsDebit() {
			total = total.Add(txn.Amount)
		}
	}
	return total
}

// Parse decodes statement file bytes into statement transactions. The
// mapping argument is required for CSV input and ignored for exchange
// formats. The returned sequence preserves file order.
func Parse(data []byte, name string, format Format, mapping *CSVMapping) (*ParseResult, error) {
	if format == "" || format == FormatAuto {
		format = DetectFormat(name, data)
	}
	if !format.IsValid() {
		return nil, qberrors.FormatError(qberrors.CodeInvalidFormat, name,
			"unknown format "+string(format), nil)
	}

	var result *ParseResult
	var err error
	if format.isExchange() {
		result, err = parseOFX(data, name)
	} else {
		result, err = parseCSV(data, name, mapping)
	}
	if err != nil {
		return nil, err
	}

	result.Format = format
	if len(result.Transactions) == 0 {
		return nil, qberrors.FormatError(qberrors.CodeNoRecords, name, "", nil).
			WithContext("skipped", result.Skipped)
	}

	// Deterministic order for matching: file order within a day, days sorted.
	sort.SliceStable(result.Transactions, func(i, j int) bool {
		return result.Transactions[i].Date.Before(result.Transactions[j].Date)
	})

	return result, nil
}

// ParseFile reads and parses a statement file from disk.
func ParseFile(path string, format Format, mapping *CSVMapping) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qberrors.FormatError(qberrors.CodeInvalidFormat, path,
			"cannot read file", err)
	}
	return Parse(data, filepath.Base(path), format, mapping)
}

// DetectFormat auto-detects a statement format from the file name extension,
// falling back to sniffing the leading bytes for OFX markers.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ofx":
		return FormatOFX
	case ".qfx":
		return FormatQFX
	case ".qbo":
		return FormatQBO
	case ".csv":
		return FormatCSV
	}

	head := data
	if len(head) > 500 {
		head = head[:500]
	}
	if bytes.Contains(head, []byte("<OFX")) || bytes.Contains(head, []byte("OFXHEADER")) {
		return FormatOFX
	}
	return FormatCSV
}
