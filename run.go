package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/gluk-w/claworc/shellbridge/internal/sshpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run <command...>",
	Short: "Run a command on several profiles in parallel",
	Long: `Run the same command on every profile (or the ones given with --on) and
print each host's output under a header. Profiles run in parallel; the exit
status is non-zero if any of them failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runOn       []string
	runParallel int
)

func init() {
	runCmd.Flags().StringSliceVar(&runOn, "on", nil, "Profiles to run on (default all)")
	runCmd.Flags().IntVar(&runParallel, "parallel", 8, "Maximum concurrent sessions")
}

// hostResult is the outcome of a command on one profile.
type hostResult struct {
	Profile string
	Output  string
	Err     error
}

func runRun(cmd *cobra.Command, args []string) error {
	command := strings.Join(args, " ")

	f, err := loadProfiles()
	if err != nil {
		return err
	}
	pool, err := newPool(f, runOn, nil)
	if err != nil {
		return err
	}
	defer pool.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := runOnAll(ctx, pool, pool.Names(), command, runParallel)
	return printResults(cmd.OutOrStdout(), results)
}

// runOnAll executes command on every named session with at most parallel
// sessions busy at once. Results come back in the order of names.
func runOnAll(ctx context.Context, pool *sshpool.Pool, names []string, command string, parallel int) []hostResult {
	results := make([]hostResult, len(names))

	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, name := range names {
		g.Go(func() error {
			res := hostResult{Profile: name}
			tx, err := pool.Exec(ctx, name, command)
			if tx != nil {
				res.Output = tx.Output
			}
			res.Err = err
			results[i] = res
			// One host failing must not cancel the others.
			return nil
		})
	}
	g.Wait()
	return results
}

// printResults writes one block per host, sorted by profile name, and
// returns the joined errors.
func printResults(w io.Writer, results []hostResult) error {
	sorted := append([]hostResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Profile < sorted[j].Profile })

	var errs []error
	for _, r := range sorted {
		status := "ok"
		if r.Err != nil {
			status = "FAILED: " + r.Err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", r.Profile, r.Err))
		}
		fmt.Fprintf(w, "=== %s (%s)\n", r.Profile, status)
		if r.Output != "" {
			fmt.Fprintln(w, r.Output)
		}
	}
	return errors.Join(errs...)
}
