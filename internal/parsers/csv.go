package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
)

// CSVMapping names the columns carrying each statement field. The caller
// owns sign normalization: when a bank exports debits as positive numbers
// alongside a type column, DebitTypeColumn/DebitTypeValue describe that
// column so amounts can be negated instead of guessed.
type CSVMapping struct {
	DateColumn        string `json:"date_column"`
	AmountColumn      string `json:"amount_column"`
	DescriptionColumn string `json:"description_column"`
	CheckNumberColumn string `json:"check_number_column,omitempty"`
	DebitTypeColumn   string `json:"debit_type_column,omitempty"`
	DebitTypeValue    string `json:"debit_type_value,omitempty"`
	Delimiter         rune   `json:"delimiter,omitempty"`
}

// DefaultCSVMapping returns the column names most bank exports use.
func DefaultCSVMapping() *CSVMapping {
	return &CSVMapping{
		DateColumn:        "Date",
		AmountColumn:      "Amount",
		DescriptionColumn: "Description",
		Delimiter:         ',',
	}
}

// Validate checks that the required column names are present.
func (m *CSVMapping) Validate() error {
	if strings.TrimSpace(m.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}

	if strings.TrimSpace(m.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}

	if strings.TrimSpace(m.DescriptionColumn) == "" {
		return fmt.Errorf("description column cannot be empty")
	}

	if m.DebitTypeColumn != "" && strings.TrimSpace(m.DebitTypeValue) == "" {
		return fmt.Errorf("debit type value is required when a debit type column is set")
	}

	return nil
}

// parseCSV decodes a delimited statement with a header row. Rows with
// unparseable dates or amounts are skipped and counted.
func parseCSV(data []byte, name string, mapping *CSVMapping) (*ParseResult, error) {
	if mapping == nil {
		mapping = DefaultCSVMapping()
	}
	if err := mapping.Validate(); err != nil {
		return nil, qberrors.FormatError(qberrors.CodeInvalidFormat, name,
			"invalid column mapping", err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	if mapping.Delimiter != 0 {
		reader.Comma = mapping.Delimiter
	}
	reader.TrimLeadingSpace = true
	// Bank exports frequently have ragged rows; length is checked per row.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, qberrors.FormatError(qberrors.CodeInvalidFormat, name,
			"cannot read header row", err)
	}

	columns := make(map[string]int, len(header))
	for i, col := range header {
		columns[normalizeHeader(col)] = i
	}

	required := []string{mapping.DateColumn, mapping.AmountColumn, mapping.DescriptionColumn}
	for _, col := range required {
		if _, ok := columns[normalizeHeader(col)]; !ok {
			return nil, qberrors.FormatError(qberrors.CodeMissingColumn, name, col, nil).
				WithContext("header", header)
		}
	}

	result := &ParseResult{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Skipped++
			continue
		}

		txn, ok := convertCSVRow(row, columns, mapping)
		if !ok {
			result.Skipped++
			continue
		}
		result.Transactions = append(result.Transactions, txn)
	}

	return result, nil
}

// convertCSVRow maps one data row onto the canonical model.
func convertCSVRow(row []string, columns map[string]int, mapping *CSVMapping) (*models.StatementTransaction, bool) {
	field := func(col string) string {
		idx, ok := columns[normalizeHeader(col)]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	date, err := models.ParseDateWithFormats(field(mapping.DateColumn))
	if err != nil {
		return nil, false
	}

	amount, err := models.ParseDecimalFromString(field(mapping.AmountColumn))
	if err != nil {
		return nil, false
	}

	// Caller-declared debit indicator: negate positive amounts flagged as
	// debits by the type column.
	if mapping.DebitTypeColumn != "" {
		typeValue := field(mapping.DebitTypeColumn)
		if strings.EqualFold(typeValue, mapping.DebitTypeValue) && amount.IsPositive() {
			amount = amount.Neg()
		}
	}

	txn := &models.StatementTransaction{
		Date:        date,
		Amount:      amount,
		Description: field(mapping.DescriptionColumn),
	}
	if mapping.CheckNumberColumn != "" {
		txn.CheckNumber = field(mapping.CheckNumberColumn)
	}

	if err := txn.Validate(); err != nil {
		return nil, false
	}
	return txn, true
}

func normalizeHeader(col string) string {
	return strings.ToLower(strings.TrimSpace(col))
}
