// Package config builds runtime configurations from viper settings and
// CLI flag values.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/claw4business/quickbooks-online-cli/internal/importer"
	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/claw4business/quickbooks-online-cli/internal/matcher"
	"github.com/claw4business/quickbooks-online-cli/internal/parsers"
	"github.com/claw4business/quickbooks-online-cli/internal/session"
	"github.com/spf13/viper"
)

// Settings keys, resolvable from flags, config file, or QB_* environment
// variables.
const (
	KeyEnvironment  = "environment"
	KeyBaseURL      = "base_url"
	KeyRealmID      = "realm_id"
	KeyClientID     = "client_id"
	KeyClientSecret = "client_secret"
	KeyMinorVersion = "minor_version"
	KeyTimeout      = "timeout"
	KeyTokenFile    = "token_file"
	KeySessionDB    = "session_db"
	KeyExpenseAcct  = "expense_account_id"
	KeyIncomeAcct   = "income_account_id"
)

// DataDir returns the directory for CLI state files (tokens, sessions),
// creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".qb")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("cannot create data directory: %w", err)
	}
	return dir, nil
}

// CreateTokenManager builds the OAuth token manager from configured
// credentials and token file path.
func CreateTokenManager() (*ledger.TokenManager, error) {
	path := viper.GetString(KeyTokenFile)
	if path == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "tokens.json")
	}

	clientID := viper.GetString(KeyClientID)
	clientSecret := viper.GetString(KeyClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("client credentials not configured; set QB_CLIENT_ID and QB_CLIENT_SECRET (or use --env-file)")
	}

	storage := ledger.NewFileTokenStorage(path)
	return ledger.NewTokenManager(storage, clientID, clientSecret), nil
}

// CreateLedgerConfig builds the remote transport configuration. The realm
// id comes from settings, falling back to the one recorded with the saved
// token.
func CreateLedgerConfig(tokens *ledger.TokenManager) (*ledger.Config, error) {
	cfg := ledger.DefaultConfig()

	switch strings.ToLower(viper.GetString(KeyEnvironment)) {
	case "", "sandbox":
		cfg.BaseURL = ledger.SandboxBaseURL
	case "production":
		cfg.BaseURL = ledger.ProductionBaseURL
	default:
		return nil, fmt.Errorf("unknown environment %q, want sandbox or production", viper.GetString(KeyEnvironment))
	}
	if base := viper.GetString(KeyBaseURL); base != "" {
		cfg.BaseURL = base
	}

	cfg.RealmID = viper.GetString(KeyRealmID)
	if cfg.RealmID == "" && tokens != nil {
		realm, err := tokens.RealmID(context.Background())
		if err == nil {
			cfg.RealmID = realm
		}
	}
	if cfg.RealmID == "" {
		return nil, fmt.Errorf("realm id not configured; set QB_REALM_ID or re-authorize to refresh the token file")
	}

	if mv := viper.GetString(KeyMinorVersion); mv != "" {
		cfg.MinorVersion = mv
	}
	if timeout := viper.GetDuration(KeyTimeout); timeout > 0 {
		cfg.Timeout = timeout
	}
	if acct := viper.GetString(KeyExpenseAcct); acct != "" {
		cfg.UncategorizedExpenseAccountID = acct
	}
	if acct := viper.GetString(KeyIncomeAcct); acct != "" {
		cfg.UncategorizedIncomeAccountID = acct
	}

	return cfg, nil
}

// CreateSessionStore opens the durable session store.
func CreateSessionStore() (session.Store, error) {
	path := viper.GetString(KeySessionDB)
	if path == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "sessions.db")
	}
	return session.NewSQLiteStore(path)
}

// CreateMatcherConfig builds the matching policy with the CLI tolerance
// override applied.
func CreateMatcherConfig(toleranceDays int) *matcher.Config {
	cfg := matcher.DefaultConfig()
	if toleranceDays >= 0 {
		cfg.DateWindowDays = toleranceDays
	}
	return cfg
}

// CreateImporterConfig builds the executor settings with the CLI
// concurrency override applied.
func CreateImporterConfig(maxInFlight int) *importer.Config {
	cfg := importer.DefaultConfig()
	if maxInFlight > 0 {
		cfg.MaxInFlight = maxInFlight
	}
	return cfg
}

// CreateCSVMapping builds the column mapping for delimited statements.
// Empty column flags keep the defaults.
func CreateCSVMapping(dateCol, amountCol, descCol, checkCol string) *parsers.CSVMapping {
	mapping := parsers.DefaultCSVMapping()
	if dateCol != "" {
		mapping.DateColumn = dateCol
	}
	if amountCol != "" {
		mapping.AmountColumn = amountCol
	}
	if descCol != "" {
		mapping.DescriptionColumn = descCol
	}
	if checkCol != "" {
		mapping.CheckNumberColumn = checkCol
	}
	return mapping
}

// DefaultTimeout is the fallback remote request timeout when none is
// configured.
const DefaultTimeout = 30 * time.Second
