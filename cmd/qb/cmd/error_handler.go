package cmd

import (
	"fmt"
	"os"
	"strings"

	qberrors "github.com/claw4business/quickbooks-online-cli/pkg/errors"
	"github.com/claw4business/quickbooks-online-cli/pkg/logger"
	"github.com/spf13/viper"
)

// CLIErrorHandler turns command errors into user-facing messages and
// process exit codes.
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler.
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints the error and returns the exit code for it.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("command failed")

	if qbErr, ok := qberrors.AsQBError(err); ok {
		return h.handleQBError(qbErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleQBError(err *qberrors.QBError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err.Category); help != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory") {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check if the file path is correct and the file exists\n")
		return 5
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(os.Stderr, "Run with --verbose for more detail\n")
	}
	return 1
}

func (h *CLIErrorHandler) getCategoryHelp(category qberrors.ErrorCategory) string {
	switch category {
	case qberrors.CategoryFormat:
		return `Statement format help:
• Supported formats: OFX, QFX, QBO, CSV
• For CSV, specify columns with --date-col, --amount-col, --desc-col
• Dates must parse as YYYY-MM-DD, MM/DD/YYYY, or OFX timestamps
• Amounts keep their sign: negative for withdrawals, positive for deposits`

	case qberrors.CategoryRemote:
		return `Remote API help:
• Check network connectivity and QuickBooks service status
• Transient failures (HTTP 5xx, 429) are retried automatically on reads
• For auth failures, verify QB_CLIENT_ID / QB_CLIENT_SECRET and the token file`

	case qberrors.CategorySession:
		return `Session help:
• Use 'qb reconcile status --account-id <id>' to inspect the current session
• Re-running 'reconcile start' for the same period needs --reset
• A closed session cannot be modified; start a new one`

	default:
		return ""
	}
}
