package cmd

import (
	"fmt"
	"os"

	"github.com/claw4business/quickbooks-online-cli/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	envFile      string
	outputFormat string
	verbose      bool
	version      = "dev"
	commit       = "unknown"
	date         = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qb",
	Short: "QuickBooks Online bank import and reconciliation tool",
	Long: `qb imports bank statement files into QuickBooks Online and reconciles
statement periods against the ledger. It parses OFX, QFX, QBO and CSV
statements, matches them against existing ledger transactions, creates
entries for unmatched items, and tracks reconciliation sessions.

Examples:
  qb import preview statement.qfx
  qb import bank statement.qfx --account-id 35 --dry-run
  qb reconcile start --account-id 35 --statement-date 2024-01-31 --statement-balance 5000.00
  qb reconcile match --account-id 35 --statement-file statement.qfx
  qb reconcile report --account-id 35`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load credentials from a .env file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "console", "output format: console or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig loads the optional .env file and config file, then wires QB_*
// environment variables into viper.
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading env file: %s\n", err)
			os.Exit(1)
		}
	} else {
		// Best-effort load of a local .env; absence is fine.
		godotenv.Load()
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	viper.SetEnvPrefix("QB")
	viper.AutomaticEnv()

	level := logger.InfoLevel
	if viper.GetBool("verbose") {
		level = logger.DebugLevel
	}
	log, err := logger.NewLogger(&logger.Config{Level: level, Format: logger.TextFormat})
	if err == nil {
		logger.SetGlobalLogger(log)
	}
}

// SetVersionInfo sets the build metadata shown by --version.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
