package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/gridfit/internal/dataset"
	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/curves"
	"github.com/copyleftdev/gridfit/internal/optimization/grid"
	"github.com/copyleftdev/gridfit/internal/optimization/gridsearch"
	"github.com/copyleftdev/gridfit/internal/optimization/report"
)

// Legacy grid used when no --axis is given: [0, 8) at 4096 steps per axis.
const (
	defaultAxisMin        = 0
	defaultAxisMax        = 8
	defaultAxisResolution = 4096
)

var (
	inPath      string
	fitOutPath  string
	xColumn     string
	yColumn     string
	family      string
	axisFlags   []string
	refineMode  string
	backendName string
	workers     int
	maxCands    uint64
	timeout     time.Duration
	noFallback  bool
	uniqueX     bool
	jsonOutput  bool
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a curve to two CSV columns",
	Long: `Reads two columns from a CSV export, searches the parameter grid for the
curve with the lowest mean squared error, and optionally writes the fitted
curve evaluated at every sample x.`,
	Example: `  gridfit fit --in log.csv --x "MAF Voltage" --y "Mass Airflow" \
    --family power --axis a:0:8:4096 --axis n:0:8:4096 --refine grid --out fitted.csv`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&inPath, "in", "", "Input CSV path (required)")
	fitCmd.Flags().StringVar(&fitOutPath, "out", "", "Write the fitted curve as x,y CSV")
	fitCmd.Flags().StringVar(&xColumn, "x", dataset.FieldMAFVoltage, "Column holding x")
	fitCmd.Flags().StringVar(&yColumn, "y", dataset.FieldMassAirflow, "Column holding y")
	fitCmd.Flags().StringVar(&family, "family", string(curves.FamilyPowerLaw), "Curve family: proportional, power, exponential")
	fitCmd.Flags().StringArrayVar(&axisFlags, "axis", nil, "Parameter axis name:min:max:resolution, repeated in parameter order")
	fitCmd.Flags().StringVar(&refineMode, "refine", "", "Refinement: none, grid, descent, lsq (default from FIT_REFINEMENT)")
	fitCmd.Flags().StringVar(&backendName, "backend", "", "Executor backend (default from FIT_BACKEND)")
	fitCmd.Flags().IntVar(&workers, "workers", 0, "Worker goroutines per dispatch (default GOMAXPROCS)")
	fitCmd.Flags().Uint64Var(&maxCands, "max-candidates", 0, "Candidate ceiling per grid (default from FIT_MAX_CANDIDATES)")
	fitCmd.Flags().DurationVar(&timeout, "timeout", 0, "Dispatch timeout (default from FIT_DISPATCH_TIMEOUT)")
	fitCmd.Flags().BoolVar(&noFallback, "no-fallback", false, "Fail instead of falling back to the sequential executor")
	fitCmd.Flags().BoolVar(&uniqueX, "unique-x", false, "Keep only the first row for every distinct x")
	fitCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	_ = fitCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(fitCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	runCfg := cfg.RunConfig()
	flags := cmd.Flags()
	if flags.Changed("refine") {
		r, err := gridsearch.ParseRefinement(refineMode)
		if err != nil {
			return err
		}
		runCfg.Refinement = r
	}
	if flags.Changed("backend") {
		runCfg.Backend = backendName
	}
	if flags.Changed("workers") {
		runCfg.Workers = workers
	}
	if flags.Changed("max-candidates") {
		runCfg.MaxCandidates = maxCands
	}
	if flags.Changed("timeout") {
		runCfg.DispatchTimeout = timeout
	}
	if flags.Changed("no-fallback") {
		runCfg.DisableFallback = noFallback
	}

	curve, err := curves.Lookup(family)
	if err != nil {
		return err
	}
	axes, err := parseAxes(axisFlags, curve)
	if err != nil {
		return err
	}

	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	samples, stats, err := dataset.ReadCSV(f, dataset.ReadOptions{X: xColumn, Y: yColumn, UniqueX: uniqueX})
	_ = f.Close()
	if err != nil {
		return err
	}
	logger.Info("Loaded samples", map[string]interface{}{
		"path":       inPath,
		"rows":       stats.Rows,
		"kept":       stats.Kept,
		"duplicates": stats.Duplicates,
	})

	optimizer, err := gridsearch.NewOptimizer(runCfg, gridsearch.WithLogger(logger.Zap()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := optimizer.Fit(ctx, samples, optimization.Problem{Family: family, Axes: axes})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	summary := report.Summarize(curve, result.Parameters, samples)

	if fitOutPath != "" {
		if err := writeFitted(fitOutPath, curve, result.Parameters, samples); err != nil {
			return err
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"result":  result,
			"summary": summary,
		})
	}

	params, err := curves.Decode(curve.Family(), result.Parameters)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", params)
	fmt.Printf("mse=%s rmse=%g r2=%.6f max|res|=%g\n",
		dataset.FormatFloat(result.MinError), summary.RMSE, summary.RSquared, summary.MaxAbsResidual)
	fmt.Printf("backend=%s fell_back=%t evaluations=%d elapsed=%s\n",
		result.Backend, result.FellBack, result.Evaluations, elapsed.Round(time.Millisecond))
	if result.Outcome != optimization.OutcomeNone {
		fmt.Printf("refinement=%s outcome=%s\n", result.Refinement, result.Outcome)
	}
	if fitOutPath != "" {
		fmt.Printf("Wrote %s\n", fitOutPath)
	}
	return nil
}

func writeFitted(path string, c curves.Curve, params []float32, samples *optimization.Samples) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := dataset.WriteCSV(out, samples.X(), report.Predict(c, params, samples)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// parseAxes parses name:min:max:resolution specs. With no specs it returns
// the legacy grid over as many of the family's parameters as fit under the
// default candidate ceiling.
func parseAxes(specs []string, c curves.Curve) ([]optimization.AxisSpec, error) {
	if len(specs) == 0 {
		lo, n := c.Arity()
		for n > lo && legacyCandidates(n) > grid.DefaultCeiling {
			n--
		}
		names := c.ParamNames()
		axes := make([]optimization.AxisSpec, n)
		for i := range axes {
			axes[i] = optimization.AxisSpec{
				Name:       names[i],
				Min:        defaultAxisMin,
				Max:        defaultAxisMax,
				Resolution: defaultAxisResolution,
			}
		}
		return axes, nil
	}

	axes := make([]optimization.AxisSpec, 0, len(specs))
	for _, s := range specs {
		a, err := parseAxis(s)
		if err != nil {
			return nil, err
		}
		axes = append(axes, a)
	}
	return axes, nil
}

func legacyCandidates(axes int) uint64 {
	total := uint64(1)
	for i := 0; i < axes; i++ {
		total *= defaultAxisResolution
	}
	return total
}

func parseAxis(s string) (optimization.AxisSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return optimization.AxisSpec{}, fmt.Errorf("axis %q: want name:min:max:resolution", s)
	}
	lo, err := strconv.ParseFloat(parts[1], 32)
	if err != nil {
		return optimization.AxisSpec{}, fmt.Errorf("axis %q: invalid min: %w", s, err)
	}
	hi, err := strconv.ParseFloat(parts[2], 32)
	if err != nil {
		return optimization.AxisSpec{}, fmt.Errorf("axis %q: invalid max: %w", s, err)
	}
	res, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return optimization.AxisSpec{}, fmt.Errorf("axis %q: invalid resolution: %w", s, err)
	}
	return optimization.AxisSpec{
		Name:       strings.TrimSpace(parts[0]),
		Min:        float32(lo),
		Max:        float32(hi),
		Resolution: uint32(res),
	}, nil
}
