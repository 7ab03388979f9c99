package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jal472/gmail-unsubscriber/internal/dispatch"
	"github.com/jal472/gmail-unsubscriber/internal/gmail"
	"github.com/jal472/gmail-unsubscriber/internal/history"
	"github.com/jal472/gmail-unsubscriber/internal/rate"
	"github.com/jal472/gmail-unsubscriber/internal/runtime"
	"github.com/jal472/gmail-unsubscriber/internal/unsubscribe"
)

type scanConfig struct {
	cfgDir      string
	filter      string
	yes         bool
	pageSize    int
	pageDelay   time.Duration
	rps         int
	dryRun      bool
	historyPath string
	noHistory   bool
	jsonOut     string
	verbose     bool
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	cfg := scanConfig{}
	root := &cobra.Command{
		Use:   "gmail-unsubscriber",
		Short: "Find unsubscribe links in Gmail messages and follow them",
		Long: `gmail-unsubscriber lists the messages matching a Gmail search filter,
picks the most likely unsubscribe link from each message's HTML body and
requests it. Without --filter every message in the mailbox is scanned, so a
confirmation is asked first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), cfg, in, out)
		},
	}

	root.PersistentFlags().StringVar(&cfg.cfgDir, "config", defaultConfigDir(), "directory holding credentials.json and token.json")
	root.PersistentFlags().StringVar(&cfg.historyPath, "history", "", "SQLite file recording runs and attempts (default <config>/history.db)")
	root.PersistentFlags().BoolVarP(&cfg.verbose, "verbose", "v", false, "log skipped messages and failed attempts")

	flags := root.Flags()
	flags.StringVar(&cfg.filter, "filter", "", "Gmail search filter, e.g. 'category:promotions older_than:1y'")
	flags.BoolVarP(&cfg.yes, "yes", "y", false, "skip the confirmation asked when no filter is given")
	flags.IntVar(&cfg.pageSize, "page-size", unsubscribe.DefaultPageSize, "Gmail list page size (<=500)")
	flags.DurationVar(&cfg.pageDelay, "page-delay", rate.DefaultPageDelay, "pause after each page")
	flags.IntVar(&cfg.rps, "rps", 0, "max message fetches per second (0 disables)")
	flags.BoolVar(&cfg.dryRun, "dry-run", false, "find links but do not request them")
	flags.StringVar(&cfg.jsonOut, "json", "", "also write the final tally as JSON to this relative path")
	flags.BoolVar(&cfg.noHistory, "no-history", false, "do not record this run in the history database")

	root.AddCommand(newHistoryCmd(&cfg, out))
	return root
}

func newHistoryCmd(cfg *scanConfig, out io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded unsubscribe attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printHistory(cmd.Context(), cfg.historyFile(), limit, out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent attempts to show")
	return cmd
}

// historyFile is the ledger shared by scans and the history command.
func (c scanConfig) historyFile() string {
	if c.historyPath != "" {
		return c.historyPath
	}
	return filepath.Join(c.cfgDir, "history.db")
}

// openRecorder returns nil when recording is turned off.
func openRecorder(cfg scanConfig) (*history.Store, error) {
	if cfg.noHistory {
		return nil, nil
	}
	store, err := history.Open(cfg.historyFile())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

func runScan(ctx context.Context, cfg scanConfig, in io.Reader, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgDir, err := filepath.Abs(cfg.cfgDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	if err := runtime.CheckCredentials(cfgDir); err != nil {
		return err
	}

	stdin := bufio.NewReader(in)
	if cfg.filter == "" && !cfg.yes {
		ok, err := confirm(stdin, out,
			"No filter given: every message in the mailbox will be scanned and its unsubscribe link requested. Continue? [y/N] ")
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	logger := runtime.NewLogger(cfg.verbose)
	client, err := runtime.NewGmailClient(ctx, cfgDir, runtime.Prompter{In: stdin, Out: out})
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	svc := unsubscribe.NewService(client, dispatch.New(nil), rate.NewFixedDelay(cfg.pageDelay), logger)
	if cfg.rps > 0 {
		bucket := rate.NewTokenBucket(cfg.rps)
		defer bucket.Stop()
		svc.Limiter = bucket
	}
	store, err := openRecorder(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		svc.Recorder = store
	}

	rep, err := svc.Run(ctx, unsubscribe.Spec{
		Filter:   cfg.filter,
		PageSize: cfg.pageSize,
		DryRun:   cfg.dryRun,
	})
	if err != nil {
		return fmt.Errorf("run scan: %w", err)
	}
	printReport(out, rep)
	if cfg.jsonOut == "" {
		return nil
	}
	if err := unsubscribe.WriteJSON(rep, cfg.jsonOut); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func printReport(out io.Writer, rep unsubscribe.Report) {
	if rep.DryRun {
		fmt.Fprintf(out, "Dry run: %d unsubscribe links found in %d messages.\n", rep.LinksFound, rep.MessagesScanned)
		return
	}
	fmt.Fprintf(out, "Total unsubscribe attempts: %s.\n", rep)
}

// confirm reads a yes/no answer; anything but y or yes declines.
func confirm(in *bufio.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func printHistory(ctx context.Context, path string, limit int, out io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open history %s: %w", path, err)
	}
	store, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	totals, err := store.Totals(ctx)
	if err != nil {
		return fmt.Errorf("read totals: %w", err)
	}
	runs, err := store.RecentRuns(ctx, recentRuns)
	if err != nil {
		return fmt.Errorf("read runs: %w", err)
	}
	attempts, err := store.RecentAttempts(ctx, limit)
	if err != nil {
		return fmt.Errorf("read attempts: %w", err)
	}

	fmt.Fprintf(out, "%d runs, %d attempts, %d succeeded\n\n", totals.Runs, totals.Attempts, totals.Succeeded)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tFINISHED\tFILTER\tMODE\tSCANNED\tLINKS\tSUCCEEDED\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), formatFinished(r.FinishedAt),
			displayFilter(r.Filter), runMode(r.DryRun), r.Scanned, r.Links, r.Succeeded, runStatus(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)

	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tRUN\tMESSAGE\tTAG\tRESULT\tLINK")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			a.At.Local().Format(time.DateTime), a.RunID, a.MessageID, a.Tag, attemptResult(a), a.Href)
	}
	return tw.Flush()
}

const recentRuns = 5

func formatFinished(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func displayFilter(f string) string {
	if f == "" {
		return "(all mail)"
	}
	return f
}

func runMode(dryRun bool) string {
	if dryRun {
		return "dry-run"
	}
	return "live"
}

// runStatus treats a run with no finish time as cut short before it could
// be recorded.
func runStatus(r history.Run) string {
	switch {
	case r.FinishedAt.IsZero():
		return "unfinished"
	case r.Error != "":
		return "failed: " + r.Error
	default:
		return "done"
	}
}

func attemptResult(a history.Attempt) string {
	switch {
	case a.DryRun:
		return "dry-run"
	case a.OK:
		return "ok"
	case a.Error != "":
		return "error"
	default:
		return fmt.Sprintf("HTTP %d", a.StatusCode)
	}
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gmail-unsubscriber"
	}
	return filepath.Join(dir, "gmail-unsubscriber")
}

// userMessage turns the error taxonomy into the text shown on exit.
func userMessage(err error) string {
	switch {
	case errors.Is(err, gmail.ErrFatalConfig):
		return fmt.Sprintf("Missing OAuth client credentials (%v). Download credentials.json for a desktop app from the Google Cloud console into the --config directory.", err)
	case errors.Is(err, gmail.ErrAuth):
		return fmt.Sprintf("Authentication failed (%v). Delete token.json in the --config directory and log in again.", err)
	case errors.Is(err, context.Canceled):
		return "Interrupted; rerun to scan again from the first page."
	default:
		return fmt.Sprintf("gmail-unsubscriber failed: %v", err)
	}
}
