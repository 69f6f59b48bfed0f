package cmd

import (
	"os"

	"github.com/claw4business/quickbooks-online-cli/cmd/qb/config"
	"github.com/claw4business/quickbooks-online-cli/internal/dedup"
	"github.com/claw4business/quickbooks-online-cli/internal/importer"
	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/claw4business/quickbooks-online-cli/internal/matcher"
	"github.com/claw4business/quickbooks-online-cli/internal/parsers"
	"github.com/claw4business/quickbooks-online-cli/internal/reporter"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/claw4business/quickbooks-online-cli/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	importAccountID   string
	importDryRun      bool
	importFormat      string
	importTolerance   int
	importMaxInFlight int

	csvDateCol   string
	csvAmountCol string
	csvDescCol   string
	csvCheckCol  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import bank statement files",
}

var importPreviewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Parse a statement file and summarize it without any remote calls",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportPreview,
}

var importBankCmd = &cobra.Command{
	Use:   "bank <file>",
	Short: "Import a bank statement into the ledger",
	Long: `Parses the statement, matches its transactions against the ledger over
the statement period, and creates entries for unmatched transactions.
Exact matches are skipped, probable matches are flagged for manual review,
and previously imported transactions are recognized by fingerprint and
skipped. Use --dry-run to see the plan without writing anything.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateImportBankFlags,
	RunE:    runImportBank,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importPreviewCmd)
	importCmd.AddCommand(importBankCmd)

	for _, c := range []*cobra.Command{importPreviewCmd, importBankCmd} {
		c.Flags().StringVar(&importFormat, "format", "auto", "statement format: auto, ofx, qfx, qbo, or csv")
		c.Flags().StringVar(&csvDateCol, "date-col", "", "CSV date column name")
		c.Flags().StringVar(&csvAmountCol, "amount-col", "", "CSV amount column name")
		c.Flags().StringVar(&csvDescCol, "desc-col", "", "CSV description column name")
		c.Flags().StringVar(&csvCheckCol, "check-col", "", "CSV check number column name")
	}

	importBankCmd.Flags().StringVar(&importAccountID, "account-id", "", "ledger account id to import into (required)")
	importBankCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show the plan without writing to the ledger")
	importBankCmd.Flags().IntVar(&importTolerance, "tolerance", -1, "probable-match date window in days (default 3)")
	importBankCmd.Flags().IntVar(&importMaxInFlight, "max-inflight", 0, "max concurrent create calls (default 4)")
	importBankCmd.MarkFlagRequired("account-id")
}

func validateImportBankFlags(cmd *cobra.Command, args []string) error {
	if importAccountID == "" {
		return qberrors.ValidationError(qberrors.CodeMissingArgument, "account-id", "", nil)
	}
	return nil
}

func parseStatementFile(path string) (*parsers.ParseResult, error) {
	mapping := config.CreateCSVMapping(csvDateCol, csvAmountCol, csvDescCol, csvCheckCol)
	return parsers.ParseFile(path, parsers.Format(importFormat), mapping)
}

func runImportPreview(cmd *cobra.Command, args []string) error {
	result, err := parseStatementFile(args[0])
	if err != nil {
		return err
	}

	preview := reporter.BuildPreview(result)
	return reporter.RenderPreview(preview, reporter.OutputFormat(outputFormat), os.Stdout)
}

func runImportBank(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.WithComponent("import")

	result, err := parseStatementFile(args[0])
	if err != nil {
		return err
	}

	tokens, err := config.CreateTokenManager()
	if err != nil {
		return err
	}
	ledgerCfg, err := config.CreateLedgerConfig(tokens)
	if err != nil {
		return err
	}
	client, err := ledger.NewClient(ledgerCfg, tokens)
	if err != nil {
		return err
	}

	matchCfg := config.CreateMatcherConfig(importTolerance)
	engine, err := matcher.NewEngine(matchCfg)
	if err != nil {
		return err
	}

	// The query window widens by the tolerance so near-period ledger
	// transactions can still claim probable matches.
	window := result.DateRange().Expand(matchCfg.DateWindowDays)
	reader := ledger.NewSnapshotReader(client, nil)
	snapshot, err := reader.Fetch(ctx, importAccountID, window)
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"statements": len(result.Transactions),
		"ledger":     len(snapshot.Transactions),
		"window":     window.String(),
	}).Debug("matching statement against ledger")

	decisions := engine.Match(result.Transactions, snapshot)

	guard := dedup.NewGuard(snapshot.Transactions)
	exec, err := importer.NewExecutor(client, guard, importAccountID, config.CreateImporterConfig(importMaxInFlight))
	if err != nil {
		return err
	}

	run := exec.Execute(ctx, decisions, importDryRun)
	if err := reporter.RenderImportRun(run, reporter.OutputFormat(outputFormat), os.Stdout); err != nil {
		return err
	}

	if len(run.Failed) > 0 {
		return qberrors.New(qberrors.CategoryRemote, qberrors.CodeRemoteWrite,
			"some transactions could not be created").
			WithContext("failed", len(run.Failed)).
			WithContext("created", len(run.Created)).
			WithSuggestion("re-run the import; created entries are fingerprinted and will not duplicate")
	}
	return nil
}
