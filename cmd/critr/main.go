package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/db"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/logging"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/plot"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/record"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/web"
)

var (
	dbPath string
	logCfg = logging.DefaultConfig()
)

var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

var green = color.New(color.FgGreen)

func defaultDBPath() string {
	if p := os.Getenv("CRITR_DB"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "critr.db"
	}
	return filepath.Join(home, ".local", "share", "critr", "history.db")
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "critr",
		Short:         "Critical Pearson r calculator and t-distribution plotter",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Initialize(logCfg)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "history database path")
	rootCmd.PersistentFlags().StringVar(&logCfg.Level, "log-level", logCfg.Level, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logCfg.Format, "log-format", logCfg.Format, "log format (console, json)")

	rootCmd.AddCommand(calcCmd())
	rootCmd.AddCommand(alphaCmd())
	rootCmd.AddCommand(tableCmd())
	rootCmd.AddCommand(plotCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())

	return rootCmd
}

// inputFlags are the calculator fields shared by several commands. Values stay
// text so malformed numbers are reported by the calculator's own parser.
type inputFlags struct {
	alpha      string
	confidence string
	n          string
	tail       string
	source     string
}

func (f *inputFlags) register(cmd *cobra.Command, withN bool) {
	cmd.Flags().StringVar(&f.confidence, "confidence", "", "confidence level in percent (default 95 when --alpha is not given)")
	cmd.Flags().StringVar(&f.alpha, "alpha", "", "significance level")
	cmd.Flags().StringVar(&f.tail, "tail", string(stats.TwoTailed), "test type (1-tailed, 2-tailed)")
	cmd.Flags().StringVar(&f.source, "source", "", "authoritative field when both --alpha and --confidence are set (alpha, confidence)")
	if withN {
		cmd.Flags().StringVarP(&f.n, "n", "n", "14", "sample size")
	}
}

func (f *inputFlags) fields() stats.RequestFields {
	fields := stats.RequestFields{
		Alpha:      f.alpha,
		Confidence: f.confidence,
		N:          f.n,
		Tail:       f.tail,
		Source:     f.source,
	}
	if strings.TrimSpace(f.alpha) == "" && strings.TrimSpace(f.confidence) == "" {
		fields.Confidence = "95"
	}
	return fields
}

func (f *inputFlags) compute() (stats.Request, stats.Result, error) {
	req, err := stats.ParseRequest(f.fields())
	if err != nil {
		return stats.Request{}, stats.Result{}, err
	}
	res, err := req.Compute()
	if err != nil {
		return stats.Request{}, stats.Result{}, err
	}
	logging.Named("calc").Debug("computed",
		zap.Float64("alpha", res.Alpha),
		zap.Int("n", res.SampleSize),
		zap.String("tail", res.Tail.String()),
		zap.Float64("t_critical", res.TCritical),
		zap.Float64("r_critical", res.RCritical))
	return req, res, nil
}

func withDB(fn func(database *db.DB) error) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
		}
	}()
	return fn(database)
}

func calcCmd() *cobra.Command {
	var in inputFlags
	var observed string
	var asJSON, save bool
	var notes string

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Compute the critical r and t values",
		Example: `  critr calc --confidence 95 -n 14
  critr calc --alpha 0.01 -n 30 --tail 1-tailed
  critr calc -n 20 --r 0.47`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, res, err := in.compute()
			if err != nil {
				return err
			}

			var obs *float64
			if observed != "" {
				v, err := strconv.ParseFloat(observed, 64)
				if err != nil || v < -1 || v > 1 {
					return &stats.InputError{Field: "observed r", Value: observed, Err: errors.New("expected a number in [-1, 1]")}
				}
				obs = &v
			}

			if asJSON {
				if err := printJSON(res, req.Significance); err != nil {
					return err
				}
			} else {
				printSummary(res)
				if obs != nil {
					printDecision(res, *obs)
				}
			}

			if !save {
				return nil
			}
			return withDB(func(database *db.DB) error {
				id, err := record.Record(database, res, req.Significance, notes)
				if err != nil {
					return err
				}
				if !asJSON {
					_, _ = green.Fprintf(stdout, "Recorded calculation #%d\n", id)
				}
				return nil
			})
		},
	}

	in.register(cmd, true)
	cmd.Flags().StringVar(&observed, "r", "", "observed correlation to test against the critical value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&save, "record", false, "store the result in the history database")
	cmd.Flags().StringVar(&notes, "notes", "", "notes stored with --record")

	return cmd
}

func alphaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alpha [confidence]",
		Short: "Convert a confidence percentage to a significance level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
			if err != nil {
				return &stats.InputError{Field: "confidence", Value: args[0], Err: err}
			}
			alpha, err := stats.ConfidenceToAlpha(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, strconv.FormatFloat(alpha, 'f', -1, 64))
			return nil
		},
	}
}

func tableCmd() *cobra.Command {
	var in inputFlags
	var from, to int

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print a table of critical r values over a range of sample sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.n = strconv.Itoa(stats.MinSampleSize)
			req, err := stats.ParseRequest(in.fields())
			if err != nil {
				return err
			}
			rows, err := stats.CriticalTable(req.Significance.Alpha(), req.Tail, from, to)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			dim := color.New(color.Faint)

			_, _ = cyan.Fprintf(stdout, "Critical r (α = %s, %s)\n", formatAlpha(req.Significance.Alpha()), req.Tail)
			_, _ = cyan.Fprintf(stdout, "%6s %6s %12s %12s\n", "n", "df", "t_critical", "r_critical")
			_, _ = dim.Fprintln(stdout, strings.Repeat("-", 40))
			for _, row := range rows {
				fmt.Fprintf(stdout, "%6d %6d %12.4f %12.4f\n", row.SampleSize, row.DF, row.TCritical, row.RCritical)
			}
			return nil
		},
	}

	in.register(cmd, false)
	cmd.Flags().IntVar(&from, "from", stats.MinSampleSize, "first sample size")
	cmd.Flags().IntVar(&to, "to", 30, "last sample size")

	return cmd
}

func plotCmd() *cobra.Command {
	var in inputFlags
	var outputFile, format string
	var width, height int

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render the t-distribution with its critical region to a file",
		Example: `  critr plot --confidence 95 -n 14 -o region.png
  critr plot --alpha 0.01 -n 10 --tail 1-tailed -o region.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, res, err := in.compute()
			if err != nil {
				return err
			}

			opts := plot.Options{Width: width, Height: height}
			if format != "" {
				if opts.Format, err = plot.ParseFormat(format); err != nil {
					return err
				}
			}

			if outputFile == "-" {
				return plot.Render(stdout, res, opts)
			}
			if err := plot.SaveFile(outputFile, res, opts); err != nil {
				return err
			}
			printSummary(res)
			_, _ = green.Fprintf(stdout, "Plot saved to %s\n", outputFile)
			return nil
		},
	}

	in.register(cmd, true)
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (.png or .svg), - for stdout")
	cmd.Flags().StringVar(&format, "format", "", "png or svg (default: from file extension)")
	cmd.Flags().IntVar(&width, "width", 900, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 600, "image height in pixels")

	if err := cmd.MarkFlagRequired("output"); err != nil {
		panic(err)
	}

	return cmd
}

func batchCmd() *cobra.Command {
	var save, asJSON bool
	var notes string

	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Compute critical values for JSON-lines requests",
		Long: `Compute critical values for a file of JSON-lines requests (stdin when no
file is given). Each line looks like:

  {"confidence": 95, "n": 14, "tail": "2-tailed"}
  {"alpha": 0.01, "n": 30, "tail": "1-tailed", "notes": "pilot"}

Lines that are not JSON objects are skipped. Rejected requests are reported
and never recorded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				reader = f
			}

			run := func(database *db.DB) error {
				outcomes, err := record.Batch(database, reader, notes)
				if err != nil {
					return err
				}
				if asJSON {
					return printBatchJSON(outcomes)
				}
				printBatch(outcomes)
				return nil
			}

			if !save {
				return run(nil)
			}
			return withDB(run)
		},
	}

	cmd.Flags().BoolVar(&save, "record", false, "store successful results in the history database")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON result per line")
	cmd.Flags().StringVar(&notes, "notes", "batch", "notes for recorded lines without their own")

	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage recorded calculations",
	}

	cmd.AddCommand(historyListCmd())
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyDeleteCmd())

	return cmd
}

func historyListCmd() *cobra.Command {
	var filter db.ListFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded calculations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter.Tail != "" {
				tail, err := stats.ParseTailType(filter.Tail)
				if err != nil {
					return err
				}
				filter.Tail = tail.String()
			}

			return withDB(func(database *db.DB) error {
				calcs, err := database.ListCalculations(filter)
				if err != nil {
					return err
				}

				if len(calcs) == 0 {
					fmt.Fprintln(stdout, "No calculations recorded")
					return nil
				}

				cyan := color.New(color.FgCyan)
				dim := color.New(color.Faint)

				_, _ = cyan.Fprintf(stdout, "%-6s %-10s %5s %-9s %10s %10s %-20s %s\n", "ID", "α", "n", "Tail", "t_crit", "r_crit", "Date", "Notes")
				_, _ = dim.Fprintln(stdout, strings.Repeat("-", 90))

				for _, c := range calcs {
					fmt.Fprintf(stdout, "%-6d %-10s %5d %-9s %10.4f %10.4f %-20s %s\n",
						c.ID, formatAlpha(c.Alpha), c.SampleSize, c.Tail, c.TCritical, c.RCritical,
						shortDate(c.CreatedAt), truncate(c.Notes, 30))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "max calculations to show")
	cmd.Flags().StringVar(&filter.Tail, "tail", "", "filter by test type")
	cmd.Flags().StringVar(&filter.Since, "since", "", "filter calculations since date (YYYY-MM-DD)")

	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a recorded calculation (latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(database *db.DB) error {
				var c *db.Calculation
				var err error
				if len(args) == 0 {
					c, err = database.GetLatestCalculation()
				} else {
					id, perr := strconv.ParseInt(args[0], 10, 64)
					if perr != nil {
						return fmt.Errorf("invalid calculation ID: %w", perr)
					}
					c, err = database.GetCalculation(id)
				}
				if err != nil {
					return fmt.Errorf("calculation not found: %w", err)
				}

				cyan := color.New(color.FgCyan)
				dim := color.New(color.Faint)

				_, _ = cyan.Fprintf(stdout, "Calculation #%d\n", c.ID)
				_, _ = dim.Fprintln(stdout, strings.Repeat("-", 40))
				fmt.Fprintf(stdout, "Date:        %s\n", c.CreatedAt)
				fmt.Fprintf(stdout, "Confidence:  %s%% (%s drives)\n", strconv.FormatFloat(c.Confidence, 'f', -1, 64), c.Source)
				if c.Notes != "" {
					fmt.Fprintf(stdout, "Notes:       %s\n", c.Notes)
				}
				fmt.Fprintln(stdout)
				printSummary(stats.Result{
					RCritical:  c.RCritical,
					TCritical:  c.TCritical,
					DF:         c.DF,
					Alpha:      c.Alpha,
					SampleSize: c.SampleSize,
					Tail:       stats.TailType(c.Tail),
				})
				return nil
			})
		},
	}
}

func historyDeleteCmd() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete recorded calculations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(database *db.DB) error {
				if before != "" {
					count, err := database.DeleteCalculationsBefore(before)
					if err != nil {
						return err
					}
					_, _ = green.Fprintf(stdout, "Deleted %d calculations before %s\n", count, before)
					return nil
				}

				if len(args) == 0 {
					return fmt.Errorf("specify calculation id or --before date")
				}

				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid calculation ID: %w", err)
				}

				if err := database.DeleteCalculation(id); err != nil {
					return fmt.Errorf("delete calculation #%d: %w", id, err)
				}

				_, _ = green.Fprintf(stdout, "Deleted calculation #%d\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "delete calculations before date (YYYY-MM-DD)")

	return cmd
}

func serveCmd() *cobra.Command {
	var port int
	var open, noHistory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web calculator",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := fmt.Sprintf(":%d", port)
			if noHistory {
				return web.NewServer(nil, addr).Start(open)
			}
			return withDB(func(database *db.DB) error {
				return web.NewServer(database, addr).Start(open)
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "port to listen on")
	cmd.Flags().BoolVar(&open, "open", false, "open browser automatically")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "run without the history database")

	return cmd
}

func printSummary(res stats.Result) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	_, _ = bold.Fprintf(stdout, "Critical r-value (±): %.3f\n\n", res.RCritical)
	_, _ = cyan.Fprintln(stdout, "Calculation Summary")
	fmt.Fprintf(stdout, "n = %d\n", res.SampleSize)
	fmt.Fprintf(stdout, "df = %d\n", res.DF)
	fmt.Fprintf(stdout, "α = %s\n", formatAlpha(res.Alpha))
	fmt.Fprintf(stdout, "t_critical = %.4f\n", res.TCritical)
	fmt.Fprintf(stdout, "r_critical = ± %.4f (%s)\n", res.RCritical, res.Tail)
}

func printDecision(res stats.Result, observed float64) {
	fmt.Fprintln(stdout)
	if res.Rejects(observed) {
		_, _ = color.New(color.FgGreen).Fprintf(stdout, "r = %.4f is significant: reject H0 (no correlation)\n", observed)
		return
	}
	_, _ = color.New(color.FgYellow).Fprintf(stdout, "r = %.4f is not significant: cannot reject H0\n", observed)
}

type resultJSON struct {
	stats.Result
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

func printJSON(res stats.Result, sig stats.Significance) error {
	confidence, _ := stats.AlphaToConfidence(res.Alpha)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resultJSON{Result: res, Confidence: confidence, Source: string(sig.Source())})
}

func printBatch(outcomes []record.Outcome) {
	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)
	red := color.New(color.FgRed)

	_, _ = cyan.Fprintf(stdout, "%-6s %-10s %5s %-9s %10s %10s %s\n", "Line", "α", "n", "Tail", "t_crit", "r_crit", "ID")
	_, _ = dim.Fprintln(stdout, strings.Repeat("-", 64))

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			_, _ = red.Fprintf(stdout, "%-6d error: %v\n", o.Line, o.Err)
			continue
		}
		id := "-"
		if o.ID > 0 {
			id = fmt.Sprintf("#%d", o.ID)
		}
		r := o.Result
		fmt.Fprintf(stdout, "%-6d %-10s %5d %-9s %10.4f %10.4f %s\n",
			o.Line, formatAlpha(r.Alpha), r.SampleSize, r.Tail, r.TCritical, r.RCritical, id)
	}

	_, _ = dim.Fprintln(stdout, strings.Repeat("-", 64))
	fmt.Fprintf(stdout, "%d requests, %d rejected\n", len(outcomes), failed)
}

func printBatchJSON(outcomes []record.Outcome) error {
	type lineJSON struct {
		Line   int           `json:"line"`
		Result *stats.Result `json:"result,omitempty"`
		ID     int64         `json:"id,omitempty"`
		Error  string        `json:"error,omitempty"`
	}

	enc := json.NewEncoder(stdout)
	for _, o := range outcomes {
		line := lineJSON{Line: o.Line, ID: o.ID}
		if o.Err != nil {
			line.Error = o.Err.Error()
		} else {
			res := o.Result
			line.Result = &res
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

func formatAlpha(alpha float64) string {
	return strconv.FormatFloat(alpha, 'f', -1, 64)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortDate(value string) string {
	if len(value) > 19 {
		return value[:19]
	}
	return value
}
