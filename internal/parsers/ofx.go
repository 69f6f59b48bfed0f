package parsers

import (
	"bytes"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
)

// parseOFX decodes OFX/QFX/QBO markup. Bank and credit-card statement
// responses are both accepted; a single file may carry several statements.
func parseOFX(data []byte, name string) (*ParseResult, error) {
	resp, err := ofxgo.ParseResponse(bytes.NewReader(data))
	if err != nil {
		return nil, qberrors.FormatError(qberrors.CodeInvalidFormat, name,
			"OFX parse failure", err)
	}

	result := &ParseResult{}
	messages := append(resp.Bank, resp.CreditCard...)
	if len(messages) == 0 {
		return nil, qberrors.FormatError(qberrors.CodeNoRecords, name,
			"no bank or credit card statements in file", nil)
	}

	for _, msg := range messages {
		var txns []ofxgo.Transaction
		switch stmt := msg.(type) {
		case *ofxgo.StatementResponse:
			if stmt.BankTranList != nil {
				txns = stmt.BankTranList.Transactions
			}
		case *ofxgo.CCStatementResponse:
			if stmt.BankTranList != nil {
				txns = stmt.BankTranList.Transactions
			}
		default:
			continue
		}

		for i := range txns {
			txn, ok := convertOFXTransaction(&txns[i])
			if !ok {
				result.Skipped++
				continue
			}
			result.Transactions = append(result.Transactions, txn)
		}
	}

	return result, nil
}

// convertOFXTransaction maps one OFX transaction onto the canonical model.
// The OFX sign convention already matches ours: debits negative, credits
// positive.
func convertOFXTransaction(txn *ofxgo.Transaction) (*models.StatementTransaction, bool) {
	amount, err := models.ParseDecimalFromString(txn.TrnAmt.String())
	if err != nil {
		return nil, false
	}
	if txn.DtPosted.IsZero() {
		return nil, false
	}

	desc := strings.TrimSpace(string(txn.Name))
	if desc == "" && txn.Payee != nil {
		desc = strings.TrimSpace(string(txn.Payee.Name))
	}
	memo := strings.TrimSpace(string(txn.Memo))
	if desc == "" {
		desc = memo
	} else if memo != "" && memo != desc {
		desc = desc + " " + memo
	}

	out := &models.StatementTransaction{
		Date:        models.TruncateToDay(txn.DtPosted.Time),
		Amount:      amount,
		Description: desc,
		FitID:       strings.TrimSpace(string(txn.FiTID)),
		CheckNumber: strings.TrimSpace(string(txn.CheckNum)),
	}
	if err := out.Validate(); err != nil {
		return nil, false
	}
	return out, true
}
