// Package ledger talks to the remote double-entry ledger API.
//
// The Client is a thin transport: it builds authenticated requests, retries
// once on auth expiry, and translates fault responses into the error
// taxonomy. The SnapshotReader layers the read-side policy on top: bounded
// retry for transient failures, cross-entity deduplication, and harvesting
// of import fingerprints from private notes.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/dedup"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/claw4business/quickbooks-online-cli/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	SandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
	ProductionBaseURL = "https://quickbooks.api.intuit.com"

	apiVersion          = "v3"
	defaultMinorVersion = "75"
	defaultTimeout      = 30 * time.Second

	// queryPageSize bounds one page of query results; the remote caps
	// MAXRESULTS at 1000.
	queryPageSize = 500
)

// Gateway is the ledger access surface the import and reconciliation engine
// depends on. The concrete Client implements it; tests substitute fakes.
type Gateway interface {
	// QueryTransactions fetches ledger transactions touching the account
	// over the inclusive date window.
	QueryTransactions(ctx context.Context, accountID string, window models.DateRange) ([]*models.LedgerTransaction, error)
	// CreateTransaction records a new Purchase or Deposit in the ledger.
	CreateTransaction(ctx context.Context, req *CreateRequest) (*models.LedgerTransaction, error)
}

// CreateRequest describes one transaction creation. Amount keeps the
// statement sign convention: negative creates a Purchase, positive a
// Deposit.
type CreateRequest struct {
	AccountID   string
	Amount      decimal.Decimal
	Date        time.Time
	Description string
	CheckNumber string
	FitID       string
	Fingerprint string
}

// EntityType returns the ledger entity this request creates.
func (r *CreateRequest) EntityType() models.LedgerEntityType {
	if r.Amount.IsNegative() {
		return models.EntityPurchase
	}
	return models.EntityDeposit
}

// Config holds the transport configuration.
type Config struct {
	BaseURL      string
	RealmID      string
	MinorVersion string
	Timeout      time.Duration

	// Account ids the remote bookkeeps uncategorized import lines under.
	UncategorizedExpenseAccountID string
	UncategorizedIncomeAccountID  string
}

// DefaultConfig returns a sandbox configuration with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:                       SandboxBaseURL,
		MinorVersion:                  defaultMinorVersion,
		Timeout:                       defaultTimeout,
		UncategorizedExpenseAccountID: "31",
		UncategorizedIncomeAccountID:  "32",
	}
}

// Validate checks the transport configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if strings.TrimSpace(c.RealmID) == "" {
		return fmt.Errorf("realm ID cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Client is the HTTP transport for the remote ledger API.
type Client struct {
	config     *Config
	tokens     *TokenManager
	httpClient *http.Client
	log        logger.Logger
}

// NewClient creates a ledger API client.
func NewClient(config *Config, tokens *TokenManager) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}

	return &Client{
		config:     config,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: config.Timeout},
		log:        logger.WithComponent("ledger"),
	}, nil
}

// QueryTransactions implements Gateway. The remote query language has no OR
// clause, so each transaction entity is queried separately and scoped to
// the account; overlapping results are deduplicated by the snapshot reader.
func (c *Client) QueryTransactions(ctx context.Context, accountID string, window models.DateRange) ([]*models.LedgerTransaction, error) {
	var all []*models.LedgerTransaction

	for _, entity := range models.QueryEntities {
		txns, err := c.queryEntity(ctx, entity, accountID, window)
		if err != nil {
			return nil, err
		}
		all = append(all, txns...)
	}

	c.log.WithFields(logger.Fields{
		"account_id": accountID,
		"start":      window.Start.Format(models.DateFormat),
		"end":        window.End.Format(models.DateFormat),
		"count":      len(all),
	}).Debug("fetched ledger transactions")

	return all, nil
}

// accountPredicates returns the query predicates that scope one entity to
// the bank account. A transfer carries the account on either end and the
// query language has no OR, so transfers take one query per end. Journal
// entries reference accounts only on their lines, which the query language
// cannot reach; those are filtered after decoding instead.
func accountPredicates(entity models.LedgerEntityType, accountID string) []string {
	id := escapeQueryValue(accountID)
	switch entity {
	case models.EntityPurchase:
		return []string{fmt.Sprintf(" AND AccountRef = '%s'", id)}
	case models.EntityDeposit:
		return []string{fmt.Sprintf(" AND DepositToAccountRef = '%s'", id)}
	case models.EntityTransfer:
		return []string{
			fmt.Sprintf(" AND FromAccountRef = '%s'", id),
			fmt.Sprintf(" AND ToAccountRef = '%s'", id),
		}
	default:
		return []string{""}
	}
}

// queryEntity pages through one entity's query results, one pass per
// account predicate. A self-transfer can surface under both transfer
// predicates, so results are collapsed by id.
func (c *Client) queryEntity(ctx context.Context, entity models.LedgerEntityType, accountID string, window models.DateRange) ([]*models.LedgerTransaction, error) {
	var txns []*models.LedgerTransaction
	seen := make(map[string]bool)

	for _, predicate := range accountPredicates(entity, accountID) {
		position := 1
		for {
			sql := fmt.Sprintf(
				"SELECT * FROM %s WHERE TxnDate >= '%s' AND TxnDate <= '%s'%s STARTPOSITION %d MAXRESULTS %d",
				entity,
				escapeQueryValue(window.Start.Format(models.DateFormat)),
				escapeQueryValue(window.End.Format(models.DateFormat)),
				predicate,
				position,
				queryPageSize,
			)

			body, err := c.request(ctx, http.MethodGet, "query", url.Values{"query": {sql}}, nil)
			if err != nil {
				return nil, err
			}

			page, err := decodeQueryPage(body, entity, accountID)
			if err != nil {
				return nil, qberrors.Wrap(err, qberrors.CategoryRemote, qberrors.CodeRemoteFault,
					fmt.Sprintf("malformed query response for %s", entity))
			}

			for _, txn := range page {
				if seen[txn.ID] {
					continue
				}
				seen[txn.ID] = true
				txns = append(txns, txn)
			}
			if len(page) < queryPageSize {
				break
			}
			position += queryPageSize
		}
	}

	return txns, nil
}

// CreateTransaction implements Gateway. Negative amounts become Purchases
// against the uncategorized expense account; positive amounts become
// Deposits from the uncategorized income account. The idempotency
// fingerprint travels in the private note.
func (c *Client) CreateTransaction(ctx context.Context, req *CreateRequest) (*models.LedgerTransaction, error) {
	entity := req.EntityType()
	note := dedup.ImportNote(req.Description, req.Fingerprint, req.FitID)
	date := req.Date.Format(models.DateFormat)
	magnitude := req.Amount.Abs()

	var path string
	var body map[string]interface{}
	if entity == models.EntityPurchase {
		path = "purchase"
		body = map[string]interface{}{
			"AccountRef":  map[string]string{"value": req.AccountID},
			"PaymentType": "Cash",
			"TxnDate":     date,
			"PrivateNote": note,
			"Line": []map[string]interface{}{{
				"Amount":     magnitude,
				"DetailType": "AccountBasedExpenseLineDetail",
				"AccountBasedExpenseLineDetail": map[string]interface{}{
					"AccountRef": map[string]string{"value": c.config.UncategorizedExpenseAccountID},
				},
			}},
		}
		if req.CheckNumber != "" {
			body["DocNumber"] = req.CheckNumber
		}
	} else {
		path = "deposit"
		body = map[string]interface{}{
			"DepositToAccountRef": map[string]string{"value": req.AccountID},
			"TxnDate":             date,
			"PrivateNote":         note,
			"Line": []map[string]interface{}{{
				"Amount":     magnitude,
				"DetailType": "DepositLineDetail",
				"DepositLineDetail": map[string]interface{}{
					"AccountRef": map[string]string{"value": c.config.UncategorizedIncomeAccountID},
				},
			}},
		}
	}

	respBody, err := c.request(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}

	created, err := decodeCreateResponse(respBody, entity)
	if err != nil {
		return nil, qberrors.Wrap(err, qberrors.CategoryRemote, qberrors.CodeRemoteFault,
			fmt.Sprintf("malformed create response for %s", entity))
	}

	c.log.WithFields(logger.Fields{
		"entity": entity.String(),
		"id":     created.ID,
		"amount": req.Amount.String(),
	}).Debug("created ledger transaction")

	return created, nil
}

// request performs one authenticated API call with a single retry after
// token refresh when the remote answers 401.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, jsonBody interface{}) ([]byte, error) {
	body, err := c.doRequest(ctx, method, path, params, jsonBody)
	if qbErr, ok := qberrors.AsQBError(err); ok && qbErr.Code == qberrors.CodeAuthExpired {
		// Token expired mid-flight; refresh once and retry.
		c.tokens.Invalidate()
		return c.doRequest(ctx, method, path, params, jsonBody)
	}
	return body, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, jsonBody interface{}) ([]byte, error) {
	operation := fmt.Sprintf("%s %s", method, path)

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, qberrors.RemoteError(qberrors.CodeAuthExpired, operation, err)
	}

	if params == nil {
		params = url.Values{}
	}
	if params.Get("minorversion") == "" {
		params.Set("minorversion", c.config.MinorVersion)
	}

	endpoint := fmt.Sprintf("%s/%s/company/%s/%s?%s",
		strings.TrimSuffix(c.config.BaseURL, "/"), apiVersion, c.config.RealmID, path, params.Encode())

	var reader io.Reader
	if jsonBody != nil {
		payload, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, qberrors.InternalError(operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, qberrors.InternalError(operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable for reads; the
		// caller decides whether to retry.
		if errors.Is(err, context.Canceled) {
			return nil, qberrors.Wrap(err, qberrors.CategoryInternal, qberrors.CodeUnexpectedError, "request canceled")
		}
		return nil, qberrors.RemoteError(qberrors.CodeRemoteTransient, operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, qberrors.RemoteError(qberrors.CodeRemoteTransient, operation, err)
	}

	if resp.StatusCode >= 400 {
		return nil, qberrors.ParseRemoteFault(operation, resp.StatusCode, respBody,
			resp.Header.Get("intuit_tid"))
	}

	return respBody, nil
}

// escapeQueryValue escapes single quotes for the remote query language.
func escapeQueryValue(v string) string {
	return strings.ReplaceAll(v, "'", "\\'")
}

// entityRecord is the subset of remote transaction fields the engine uses.
type entityRecord struct {
	ID            string       `json:"Id"`
	TxnDate       string       `json:"TxnDate"`
	TotalAmt      json.Number  `json:"TotalAmt"`
	Amount        json.Number  `json:"Amount"`
	DocNumber     string       `json:"DocNumber"`
	PaymentRefNum string       `json:"PaymentRefNum"`
	PrivateNote   string       `json:"PrivateNote"`
	Line          []entityLine `json:"Line"`
}

type entityLine struct {
	JournalEntryLineDetail struct {
		AccountRef struct {
			Value string `json:"value"`
		} `json:"AccountRef"`
	} `json:"JournalEntryLineDetail"`
}

// postsToAccount reports whether any journal line posts to the account.
func (r *entityRecord) postsToAccount(accountID string) bool {
	for _, line := range r.Line {
		if line.JournalEntryLineDetail.AccountRef.Value == accountID {
			return true
		}
	}
	return false
}

// decodeQueryPage extracts one entity's transactions from a query response.
// Journal entries are scoped to the account here, line by line, since the
// query language cannot filter them server side.
func decodeQueryPage(body []byte, entity models.LedgerEntityType, accountID string) ([]*models.LedgerTransaction, error) {
	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	raw, ok := envelope.QueryResponse[string(entity)]
	if !ok {
		return nil, nil
	}

	var records []entityRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	txns := make([]*models.LedgerTransaction, 0, len(records))
	for i := range records {
		if entity == models.EntityJournalEntry && !records[i].postsToAccount(accountID) {
			continue
		}
		txn, err := convertEntityRecord(&records[i], entity)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// decodeCreateResponse extracts the created transaction from a create
// response envelope keyed by entity name.
func decodeCreateResponse(body []byte, entity models.LedgerEntityType) (*models.LedgerTransaction, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	raw, ok := envelope[string(entity)]
	if !ok {
		return nil, fmt.Errorf("create response missing %s body", entity)
	}

	var record entityRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return convertEntityRecord(&record, entity)
}

// convertEntityRecord maps a remote record onto the canonical model,
// normalizing the sign convention: the remote stores magnitudes, so
// Purchases become negative and Deposits positive. Transfers and journal
// entries keep the reported sign since their direction relative to the
// account is not recoverable from the amount alone.
func convertEntityRecord(record *entityRecord, entity models.LedgerEntityType) (*models.LedgerTransaction, error) {
	date, err := models.ParseDateWithFormats(record.TxnDate)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", record.ID, err)
	}

	amountStr := record.TotalAmt.String()
	if amountStr == "" || amountStr == "0" {
		if record.Amount.String() != "" {
			amountStr = record.Amount.String()
		}
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: invalid amount %q", record.ID, amountStr)
	}

	switch entity {
	case models.EntityPurchase:
		amount = amount.Abs().Neg()
	case models.EntityDeposit:
		amount = amount.Abs()
	}

	reference := record.PaymentRefNum
	if reference == "" {
		reference = record.DocNumber
	}

	fingerprint := dedup.ExtractFingerprint(record.PrivateNote)

	return &models.LedgerTransaction{
		ID:              record.ID,
		EntityType:      entity,
		Date:            date,
		Amount:          amount,
		ReferenceNumber: reference,
		Memo:            record.PrivateNote,
		FitID:           dedup.ExtractFitID(record.PrivateNote),
		CreatedByImport: fingerprint != "",
		Fingerprint:     fingerprint,
	}, nil
}
