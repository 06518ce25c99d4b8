package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/gluk-w/claworc/shellbridge/internal/database"
	"github.com/gluk-w/claworc/shellbridge/internal/logutil"
	"github.com/gluk-w/claworc/shellbridge/internal/sshaudit"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show or purge the audit log",
	Long: `List recorded commands (or connection events with --events), newest
first. --purge deletes records older than the retention period instead.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

var (
	auditLabel   string
	auditOutcome string
	auditSince   time.Duration
	auditLimit   int
	auditEvents  bool
	auditJSON    bool
	auditPurge   bool
	auditDays    int
)

func init() {
	auditCmd.Flags().StringVar(&auditLabel, "label", "", "Only records for this session label")
	auditCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Only commands with this outcome (complete, incomplete, timed_out, errored)")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "Only records newer than this, e.g. 24h")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum records to show")
	auditCmd.Flags().BoolVar(&auditEvents, "events", false, "Show connection events instead of commands")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print JSON")
	auditCmd.Flags().BoolVar(&auditPurge, "purge", false, "Delete records older than --days")
	auditCmd.Flags().IntVar(&auditDays, "days", 0, "Retention for --purge (default $"+config.EnvPrefix+"_AUDIT_RETENTION_DAYS)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	if err := database.Init(); err != nil {
		return err
	}
	defer database.Close()

	auditor := sshaudit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	out := cmd.OutOrStdout()

	if auditPurge {
		n, err := auditor.PurgeOlderThan(auditDays)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d record(s)\n", n)
		return nil
	}

	opts := sshaudit.QueryOptions{Label: auditLabel, Outcome: auditOutcome, Limit: auditLimit}
	if auditSince > 0 {
		since := time.Now().Add(-auditSince)
		opts.Since = &since
	}

	if auditEvents {
		res, err := auditor.QueryEvents(opts)
		if err != nil {
			return err
		}
		if auditJSON {
			return writeIndented(out, res)
		}
		return printEvents(out, res)
	}

	res, err := auditor.Query(opts)
	if err != nil {
		return err
	}
	if auditJSON {
		return writeIndented(out, res)
	}
	return printTransactions(out, res)
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTransactions(w io.Writer, res *sshaudit.QueryResult[database.TransactionLog]) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLABEL\tHOST\tOUTCOME\tDURATION\tCOMMAND")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.Label,
			e.Host,
			e.Outcome,
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			logutil.SanitizeForLog(e.Command),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d record(s)\n", len(res.Entries), res.Total)
	return nil
}

func printEvents(w io.Writer, res *sshaudit.QueryResult[database.ConnectionEvent]) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLABEL\tHOST\tFROM\tTO\tREASON")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.Label,
			e.Host,
			e.FromState,
			e.ToState,
			logutil.SanitizeForLog(e.Reason),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d event(s)\n", len(res.Entries), res.Total)
	return nil
}
