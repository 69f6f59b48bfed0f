package cmd

import (
	"os"
	"time"

	"github.com/claw4business/quickbooks-online-cli/cmd/qb/config"
	"github.com/claw4business/quickbooks-online-cli/internal/ledger"
	"github.com/claw4business/quickbooks-online-cli/internal/matcher"
	"github.com/claw4business/quickbooks-online-cli/internal/models"
	"github.com/claw4business/quickbooks-online-cli/internal/reporter"
	"github.com/claw4business/quickbooks-online-cli/internal/session"
	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	reconcileAccountID     string
	reconcileStatementDate string
	reconcileBalance       string
	reconcileStatementFile string
	reconcileTolerance     int
	reconcileReset         bool
	reconcileStartDate     string
	reconcileEndDate       string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a statement period against the ledger",
	Long: `Reconciliation tracks a session per (account, statement date) pair:

  start   opens a session and records the opening ledger balance
  match   compares the statement file against the ledger
  status  shows the most recent session for the account
  report  generates the reconciliation report
  close   marks the session closed (advisory; no remote effect)`,
}

var reconcileStartCmd = &cobra.Command{
	Use:     "start",
	Short:   "Open a reconciliation session for a statement period",
	PreRunE: requireAccountFlags("account-id", "statement-date", "statement-balance"),
	RunE:    runReconcileStart,
}

var reconcileStatusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show the most recent session for an account",
	PreRunE: requireAccountFlags("account-id"),
	RunE:    runReconcileStatus,
}

var reconcileMatchCmd = &cobra.Command{
	Use:     "match",
	Short:   "Match a statement file against the ledger",
	PreRunE: requireAccountFlags("account-id", "statement-file"),
	RunE:    runReconcileMatch,
}

var reconcileReportCmd = &cobra.Command{
	Use:     "report",
	Short:   "Generate the reconciliation report",
	PreRunE: requireAccountFlags("account-id"),
	RunE:    runReconcileReport,
}

var reconcileCloseCmd = &cobra.Command{
	Use:     "close",
	Short:   "Mark a session closed",
	PreRunE: requireAccountFlags("account-id", "statement-date"),
	RunE:    runReconcileClose,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.AddCommand(reconcileStartCmd, reconcileStatusCmd, reconcileMatchCmd,
		reconcileReportCmd, reconcileCloseCmd)

	for _, c := range []*cobra.Command{reconcileStartCmd, reconcileStatusCmd,
		reconcileMatchCmd, reconcileReportCmd, reconcileCloseCmd} {
		c.Flags().StringVar(&reconcileAccountID, "account-id", "", "ledger account id (required)")
	}

	reconcileStartCmd.Flags().StringVar(&reconcileStatementDate, "statement-date", "", "statement period end date, YYYY-MM-DD (required)")
	reconcileStartCmd.Flags().StringVar(&reconcileBalance, "statement-balance", "", "statement ending balance (required)")
	reconcileStartCmd.Flags().BoolVar(&reconcileReset, "reset", false, "replace an existing session for the same period")

	reconcileMatchCmd.Flags().StringVar(&reconcileStatementFile, "statement-file", "", "statement file to match (required)")
	reconcileMatchCmd.Flags().IntVar(&reconcileTolerance, "tolerance", -1, "probable-match date window in days (default 3)")
	reconcileMatchCmd.Flags().StringVar(&importFormat, "format", "auto", "statement format: auto, ofx, qfx, qbo, or csv")
	reconcileMatchCmd.Flags().StringVar(&csvDateCol, "date-col", "", "CSV date column name")
	reconcileMatchCmd.Flags().StringVar(&csvAmountCol, "amount-col", "", "CSV amount column name")
	reconcileMatchCmd.Flags().StringVar(&csvDescCol, "desc-col", "", "CSV description column name")
	reconcileMatchCmd.Flags().StringVar(&csvCheckCol, "check-col", "", "CSV check number column name")

	reconcileReportCmd.Flags().StringVar(&reconcileStartDate, "start-date", "", "only report discrepancies on or after this date, YYYY-MM-DD")
	reconcileReportCmd.Flags().StringVar(&reconcileEndDate, "end-date", "", "only report discrepancies on or before this date, YYYY-MM-DD")

	reconcileCloseCmd.Flags().StringVar(&reconcileStatementDate, "statement-date", "", "statement date of the session to close (required)")
}

// requireAccountFlags builds a PreRunE that rejects empty required flags
// with the validation error taxonomy instead of cobra's plain message.
func requireAccountFlags(names ...string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		for _, name := range names {
			value, err := cmd.Flags().GetString(name)
			if err == nil && value == "" {
				return qberrors.ValidationError(qberrors.CodeMissingArgument, name, "", nil)
			}
		}
		return nil
	}
}

// newSessionManager wires the store, snapshot reader and matcher for the
// reconcile subcommands.
func newSessionManager(toleranceDays int) (*session.Manager, session.Store, error) {
	tokens, err := config.CreateTokenManager()
	if err != nil {
		return nil, nil, err
	}
	ledgerCfg, err := config.CreateLedgerConfig(tokens)
	if err != nil {
		return nil, nil, err
	}
	client, err := ledger.NewClient(ledgerCfg, tokens)
	if err != nil {
		return nil, nil, err
	}

	engine, err := matcher.NewEngine(config.CreateMatcherConfig(toleranceDays))
	if err != nil {
		return nil, nil, err
	}

	store, err := config.CreateSessionStore()
	if err != nil {
		return nil, nil, err
	}

	reader := ledger.NewSnapshotReader(client, nil)
	return session.NewManager(store, reader, engine), store, nil
}

// newLocalSessionManager builds a manager for subcommands that only read
// and write local session state, so no remote credentials are needed.
func newLocalSessionManager() (*session.Manager, session.Store, error) {
	store, err := config.CreateSessionStore()
	if err != nil {
		return nil, nil, err
	}
	return session.NewManager(store, nil, nil), store, nil
}

func parseStatementDate(value string) (time.Time, error) {
	d, err := time.Parse(models.DateFormat, value)
	if err != nil {
		return time.Time{}, qberrors.ValidationError(qberrors.CodeInvalidDate, "statement-date", value, err)
	}
	return d, nil
}

func runReconcileStart(cmd *cobra.Command, args []string) error {
	statementDate, err := parseStatementDate(reconcileStatementDate)
	if err != nil {
		return err
	}
	balance, err := decimal.NewFromString(reconcileBalance)
	if err != nil {
		return qberrors.ValidationError(qberrors.CodeInvalidAmount, "statement-balance", reconcileBalance, err)
	}

	mgr, store, err := newSessionManager(-1)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := mgr.Start(cmd.Context(), reconcileAccountID, statementDate, balance, reconcileReset)
	if err != nil {
		return err
	}

	status := reporter.BuildSessionStatus(sess)
	return reporter.RenderSessionStatus(status, reporter.OutputFormat(outputFormat), os.Stdout)
}

func runReconcileStatus(cmd *cobra.Command, args []string) error {
	mgr, store, err := newLocalSessionManager()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := mgr.Status(cmd.Context(), reconcileAccountID)
	if err != nil {
		return err
	}

	status := reporter.BuildSessionStatus(sess)
	return reporter.RenderSessionStatus(status, reporter.OutputFormat(outputFormat), os.Stdout)
}

func runReconcileMatch(cmd *cobra.Command, args []string) error {
	result, err := parseStatementFile(reconcileStatementFile)
	if err != nil {
		return err
	}

	mgr, store, err := newSessionManager(reconcileTolerance)
	if err != nil {
		return err
	}
	defer store.Close()

	tolerance := config.CreateMatcherConfig(reconcileTolerance).DateWindowDays
	sess, decisions, err := mgr.Match(cmd.Context(), reconcileAccountID, result.Transactions, tolerance)
	if err != nil {
		return err
	}

	report := reporter.Build(sess, decisions)
	return reporter.Render(report, reporter.OutputFormat(outputFormat), os.Stdout)
}

func runReconcileReport(cmd *cobra.Command, args []string) error {
	mgr, store, err := newLocalSessionManager()
	if err != nil {
		return err
	}
	defer store.Close()

	var startDate, endDate time.Time
	if reconcileStartDate != "" {
		if startDate, err = parseStatementDate(reconcileStartDate); err != nil {
			return err
		}
	}
	if reconcileEndDate != "" {
		if endDate, err = parseStatementDate(reconcileEndDate); err != nil {
			return err
		}
	}

	sess, err := mgr.MarkReported(cmd.Context(), reconcileAccountID)
	if err != nil {
		return err
	}

	report := reporter.Build(sess, nil)
	report.FilterDiscrepancies(startDate, endDate)
	return reporter.Render(report, reporter.OutputFormat(outputFormat), os.Stdout)
}

func runReconcileClose(cmd *cobra.Command, args []string) error {
	statementDate, err := parseStatementDate(reconcileStatementDate)
	if err != nil {
		return err
	}

	mgr, store, err := newLocalSessionManager()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := mgr.Close(cmd.Context(), reconcileAccountID, statementDate)
	if err != nil {
		return err
	}

	status := reporter.BuildSessionStatus(sess)
	return reporter.RenderSessionStatus(status, reporter.OutputFormat(outputFormat), os.Stdout)
}
