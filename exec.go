package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/gluk-w/claworc/shellbridge/internal/database"
	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <profile> <command...>",
	Short: "Run one command on a profile and print its output",
	Long: `Connect to the host of a profile, run a single command in its shell and
print the command's output. The exit status is non-zero when the command
could not be run or its response did not end with the prompt and the
profile sets failOnIncomplete.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

var (
	execJSON  bool
	execStats bool
	execAudit bool
)

func init() {
	execCmd.Flags().BoolVar(&execJSON, "json", false, "Print the whole transaction as JSON")
	execCmd.Flags().BoolVar(&execStats, "stats", false, "Print session statistics to stderr")
	execCmd.Flags().BoolVar(&execAudit, "audit", false, "Record the transaction in the audit database")
}

func runExec(cmd *cobra.Command, args []string) error {
	profile, command := args[0], strings.Join(args[1:], " ")

	f, err := loadProfiles()
	if err != nil {
		return err
	}

	var auditor *sshaudit.Auditor
	if execAudit {
		if err := database.Init(); err != nil {
			return err
		}
		defer database.Close()
		auditor = sshaudit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	}

	pool, err := newPool(f, []string{profile}, auditor)
	if err != nil {
		return err
	}
	defer pool.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tx, err := pool.Exec(ctx, profile, command)
	out := cmd.OutOrStdout()
	if tx != nil {
		if execJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(tx); encErr != nil {
				return encErr
			}
		} else if tx.Output != "" {
			fmt.Fprintln(out, tx.Output)
		}
	}
	if execStats {
		if info, infoErr := pool.Info(profile); infoErr == nil {
			enc := json.NewEncoder(cmd.ErrOrStderr())
			enc.SetIndent("", "  ")
			enc.Encode(info.Stats)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", profile, err)
	}
	return nil
}
