// Package main provides the Cadence CLI entry point.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/cadence/pkg/aggregate"
	"github.com/orneryd/cadence/pkg/config"
	"github.com/orneryd/cadence/pkg/decay"
	"github.com/orneryd/cadence/pkg/interval"
	"github.com/orneryd/cadence/pkg/storage"
	"github.com/orneryd/cadence/pkg/temporal"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cadence",
		Short: "Cadence - activity frequency and freshness engine",
		Long: `Cadence keeps a hierarchy of activities and the timestamped
points logged against them, and turns those timestamps into:

  • a human-readable recurrence ("Daily", "3/wk")
  • per-activity freshness/overdue decay curves
  • bottom-up averaged curves for every category
  • focus-relative importance scores`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Journal directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides config)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Cadence v%s (%s)\n", version, commit)
		},
	})

	// Describe command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "describe <seconds>",
		Short: "Describe a recurrence interval and its neighbors",
		Args:  cobra.ExactArgs(1),
		RunE:  runDescribe,
	})

	// Import command
	importCmd := &cobra.Command{
		Use:   "import <seed.yaml>",
		Short: "Import contexts and points from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)

	// Curves command
	curvesCmd := &cobra.Command{
		Use:   "curves <root-id>",
		Short: "Compute decay curves for a context and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE:  runCurves,
	}
	curvesCmd.Flags().Duration("window", 0, "Curve window (overrides config)")
	curvesCmd.Flags().Int("segments", 0, "Curve segments (overrides config)")
	curvesCmd.Flags().Float64("anchor", 0, "Anchor time in epoch seconds (default: now)")
	curvesCmd.Flags().Bool("metrics", false, "Print aggregator metrics afterwards")
	rootCmd.AddCommand(curvesCmd)

	// Score command
	scoreCmd := &cobra.Command{
		Use:   "score <focus-id>",
		Short: "Score contexts relative to a focus and report visibility",
		Args:  cobra.ExactArgs(1),
		RunE:  runScore,
	}
	scoreCmd.Flags().Float64("threshold", 0.5, "Visibility filter value")
	scoreCmd.Flags().Float64("now", 0, "Current time in epoch seconds (default: now)")
	scoreCmd.Flags().String("within", "", "Restrict scoring to the subgraph under this context")
	rootCmd.AddCommand(scoreCmd)

	// Period command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "period <context-id>",
		Short: "Estimate the natural recurrence period of a context",
		Args:  cobra.ExactArgs(1),
		RunE:  runPeriod,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles what every data command needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	graph   *storage.Graph
	journal *storage.Journal
	detach  func()
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	journal, err := storage.OpenJournal(storage.JournalOptions{
		DataDir:    cfg.Storage.DataDir,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	graph := storage.NewGraph(storage.WithLogger(logger))
	if err := journal.Load(cmd.Context(), graph); err != nil {
		journal.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		graph:   graph,
		journal: journal,
		detach:  journal.Attach(graph),
	}, nil
}

func (a *app) Close() error {
	a.detach()
	err := a.journal.Err()
	if cerr := a.journal.Close(); err == nil {
		err = cerr
	}
	a.graph.Close()
	a.logger.Sync()
	return err
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ============================================================================
// describe
// ============================================================================

func runDescribe(cmd *cobra.Command, args []string) error {
	seconds, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid seconds %q: %w", args[0], err)
	}

	fmt.Printf("%-10s %12.2fs  %s\n", "interval", seconds, interval.Describe(seconds))
	if up, ok := interval.Increment(seconds); ok {
		fmt.Printf("%-10s %12.2fs  %s\n", "increment", up, interval.Describe(up))
	}
	if down, ok := interval.Decrement(seconds); ok {
		fmt.Printf("%-10s %12.2fs  %s\n", "decrement", down, interval.Describe(down))
	}
	return nil
}

// ============================================================================
// import
// ============================================================================

func runImport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	seed, err := readSeed(args[0])
	if err != nil {
		return err
	}

	stats, err := seed.apply(a.graph)
	if err != nil {
		return err
	}
	if !a.cfg.Storage.InMemory {
		if err := a.journal.Sync(); err != nil {
			return err
		}
	}

	fmt.Printf("✅ Imported %d contexts, %d links, %d points from %s\n",
		stats.Contexts, stats.Links, stats.Points, args[0])
	return a.journal.Err()
}

// ============================================================================
// curves
// ============================================================================

func runCurves(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	window := a.cfg.Curves.Window
	if w, _ := cmd.Flags().GetDuration("window"); w > 0 {
		window = w
	}
	segments := a.cfg.Curves.Segments
	if s, _ := cmd.Flags().GetInt("segments"); s > 0 {
		segments = s
	}
	anchor, _ := cmd.Flags().GetFloat64("anchor")
	if anchor == 0 {
		anchor = nowSeconds()
	}
	showMetrics, _ := cmd.Flags().GetBool("metrics")

	root := storage.ContextID(args[0])
	view, err := a.graph.DeriveSubgraph(root)
	if err != nil {
		return err
	}
	defer view.Close()

	registry := prometheus.NewRegistry()
	agg := aggregate.New(view, aggregate.Config{
		Period:  a.cfg.PeriodOptions(),
		Logger:  a.logger,
		Metrics: aggregate.NewMetrics(a.cfg.Metrics.Namespace, registry),
	})

	res, err := agg.ComputeAll(root, window.Seconds(), segments, anchor, false)
	if err != nil {
		return err
	}
	for _, id := range res.Inconsistent {
		fmt.Printf("⚠️  cycle through %s\n", id)
	}

	fmt.Printf("Curves for %s (window %s, %d segments, newest first)\n\n", root, window, segments)
	printCurveTree(view, agg, root, 0, map[storage.ContextID]bool{})

	if showMetrics {
		families, err := registry.Gather()
		if err != nil {
			return err
		}
		fmt.Println()
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				switch {
				case m.GetCounter() != nil:
					fmt.Printf("%-50s %g\n", mf.GetName(), m.GetCounter().GetValue())
				case m.GetHistogram() != nil:
					fmt.Printf("%-50s count=%d sum=%gs\n", mf.GetName(),
						m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum())
				}
			}
		}
	}
	return nil
}

func printCurveTree(src storage.Source, agg *aggregate.Aggregator, id storage.ContextID, depth int, seen map[storage.ContextID]bool) {
	if seen[id] {
		return
	}
	seen[id] = true

	label := string(id)
	if target, ok := agg.Target(id); ok {
		how := "set"
		if target.Estimated {
			how = "estimated"
		}
		label = fmt.Sprintf("%s [%s, %s]", id, interval.Describe(target.Seconds), how)
	}

	curve, ok := agg.Curve(id)
	fmt.Printf("%s%-*s %s\n", strings.Repeat("  ", depth), 36-2*depth, label, formatCurve(curve, ok))

	for _, child := range storage.Children(src, id) {
		printCurveTree(src, agg, child, depth+1, seen)
	}
}

func formatCurve(c decay.Curve, ok bool) string {
	if !ok {
		return "-"
	}
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = fmt.Sprintf("%3.0f", v)
	}
	return strings.Join(parts, " ")
}

// ============================================================================
// score
// ============================================================================

func runScore(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	threshold, _ := cmd.Flags().GetFloat64("threshold")
	now, _ := cmd.Flags().GetFloat64("now")
	if now == 0 {
		now = nowSeconds()
	}

	var src storage.Source = a.graph
	if within, _ := cmd.Flags().GetString("within"); within != "" {
		view, err := a.graph.DeriveSubgraph(storage.ContextID(within))
		if err != nil {
			return err
		}
		defer view.Close()
		src = view
	}

	scorer := storage.NewScorer(src, a.cfg.Scoring.BumpWindow.Seconds(), a.logger)
	set, err := scorer.ScoreFromFocus(storage.ContextID(args[0]), now)
	if err != nil {
		return err
	}

	ids := make([]storage.ContextID, 0, len(set.Scores))
	for id := range set.Scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		di, dj := set.Distances[ids[i]], set.Distances[ids[j]]
		if di != dj {
			return di < dj
		}
		return ids[i] < ids[j]
	})

	fmt.Printf("%-30s %8s %8s %s\n", "CONTEXT", "DIST", "SCORE", "VISIBLE")
	for _, id := range ids {
		visible := "no"
		if scorer.IsVisibleUnderThreshold(id, threshold) {
			visible = "yes"
		}
		fmt.Printf("%-30s %8d %8.3f %s\n", id, set.Distances[id], set.Scores[id], visible)
	}
	if len(set.Revisited) > 0 {
		fmt.Printf("\n%d contexts reachable by more than one path\n", len(set.Revisited))
	}
	return nil
}

// ============================================================================
// period
// ============================================================================

func runPeriod(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id := storage.ContextID(args[0])
	c, err := a.graph.GetContext(id)
	if err != nil {
		return fmt.Errorf("context %s: %w", id, err)
	}
	timestamps := storage.Timestamps(a.graph.Points(id))

	if explicit, ok := c.TargetInterval(); ok {
		fmt.Printf("Target interval (set): %.0fs  %s\n", explicit, interval.Describe(explicit))
	}

	analysis, ok := temporal.Analyze(timestamps, a.cfg.PeriodOptions())
	if !ok {
		fmt.Printf("Not enough points to estimate (%d)\n", len(timestamps))
		return nil
	}

	fmt.Printf("Gaps (newest first):\n")
	for i, gap := range analysis.Gaps {
		mark := "  "
		if !analysis.Kept[i] {
			mark = "✗ "
		}
		fmt.Printf("  %s%10.0fs  %s\n", mark, gap, interval.Describe(gap))
	}
	fmt.Printf("Mean %.0fs, stddev %.0fs\n", analysis.Mean, analysis.StdDev)
	if analysis.Fallback {
		fmt.Println("Every gap was an outlier; using the unfiltered mean")
	}
	fmt.Printf("Estimated period: %.0fs  %s\n", analysis.Period, interval.Describe(analysis.Period))
	return nil
}
