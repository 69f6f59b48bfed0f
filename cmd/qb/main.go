package main

import (
	"os"

	"github.com/claw4business/quickbooks-online-cli/cmd/qb/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)
	os.Exit(cmd.Execute())
}
