package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/odesens/internal/adjoint"
	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/calibrate"
	"github.com/san-kum/odesens/internal/config"
	"github.com/san-kum/odesens/internal/gradient"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/logs"
	"github.com/san-kum/odesens/internal/models"
	"github.com/san-kum/odesens/internal/ode"
	"github.com/san-kum/odesens/internal/sensitivity"
	"github.com/san-kum/odesens/internal/storage"
	"github.com/san-kum/odesens/internal/viz"
)

var (
	dataPath   string
	configFile string
	logLevel   string
	logFile    string

	algorithm string
	adMode    string
	method    string
	initDt    float64
	absTol    float64
	relTol    float64
	quadAbs   float64
	quadRel   float64
	obsTimes  []float64
	initState []float64
	params    []float64
	t0Flag    float64
	tfFlag    float64
	useCkpt   bool
	ckptTimes []float64
	resync    bool
	strict    bool
	parallel  bool
	preset    string
	noSave    bool
	dataFile  string

	// forward command
	stateIdx int
	paramIdx int

	// fit command
	learnRate  float64
	maxIters   int
	fitTol     float64
	fitInitial bool
	live       bool
	trueParams []float64
	seedLo     []float64
	seedHi     []float64
	seedSteps  int
)

var (
	logger   *slog.Logger
	closeLog func() error
	registry = models.NewRegistry()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "odesens",
		Short:         "ODE sensitivity analysis and parameter calibration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, closeLog, err = logs.New(os.Stderr, logLevel, logFile)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataPath, "data", ".odesens/runs.db", "run database path")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append JSON log records to this file")

	gradientCmd := &cobra.Command{
		Use:   "gradient [model]",
		Short: "compute the gradient of an observation cost",
		Long: "Computes d(cost)/d(initial state) and d(cost)/d(parameters).\n" +
			"With --data-file the cost is the squared residual against the\n" +
			"observations; otherwise it is the summed state at the sample times.",
		Args: cobra.ExactArgs(1),
		RunE: runGradient,
	}
	addProblemFlags(gradientCmd)
	addAlgorithmFlags(gradientCmd)
	gradientCmd.Flags().StringVar(&dataFile, "data-file", "", "CSV observations (time,u0,u1,...)")
	gradientCmd.Flags().BoolVar(&noSave, "no-save", false, "do not record the run")

	forwardCmd := &cobra.Command{
		Use:   "forward [model]",
		Short: "forward sensitivity: plot one du_i/dp_j over time",
		Args:  cobra.ExactArgs(1),
		RunE:  runForward,
	}
	addProblemFlags(forwardCmd)
	forwardCmd.Flags().IntVar(&stateIdx, "state", 0, "state component i")
	forwardCmd.Flags().IntVar(&paramIdx, "param", 0, "parameter j")
	forwardCmd.Flags().BoolVar(&parallel, "parallel", false, "evaluate sensitivity columns concurrently")

	compareCmd := &cobra.Command{
		Use:   "compare [model]",
		Short: "run every gradient algorithm and compare results",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompare,
	}
	addProblemFlags(compareCmd)
	addAlgorithmFlags(compareCmd)
	compareCmd.Flags().StringVar(&dataFile, "data-file", "", "CSV observations (time,u0,u1,...)")

	fitCmd := &cobra.Command{
		Use:   "fit [model]",
		Short: "calibrate parameters against observed data",
		Long: "Fits parameters by gradient descent. Observations come from\n" +
			"--data-file, or are synthesized from --true-params at the\n" +
			"observation times.",
		Args: cobra.ExactArgs(1),
		RunE: runFit,
	}
	addProblemFlags(fitCmd)
	addAlgorithmFlags(fitCmd)
	fitCmd.Flags().StringVar(&dataFile, "data-file", "", "CSV observations (time,u0,u1,...)")
	fitCmd.Flags().Float64Var(&learnRate, "lr", config.DefaultLearnRate, "initial learning rate")
	fitCmd.Flags().IntVar(&maxIters, "max-iters", config.DefaultMaxIters, "iteration budget")
	fitCmd.Flags().Float64Var(&fitTol, "tol", 1e-6, "gradient norm stopping threshold")
	fitCmd.Flags().BoolVar(&fitInitial, "fit-initial", false, "also fit the initial state")
	fitCmd.Flags().BoolVar(&live, "live", false, "show the live calibration view")
	fitCmd.Flags().Float64SliceVar(&trueParams, "true-params", nil, "synthesize observations from these parameters")
	fitCmd.Flags().Float64SliceVar(&seedLo, "seed-lo", nil, "grid seed lower bounds")
	fitCmd.Flags().Float64SliceVar(&seedHi, "seed-hi", nil, "grid seed upper bounds")
	fitCmd.Flags().IntVar(&seedSteps, "seed-steps", 5, "grid seed steps per dimension")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "manage stored gradient runs",
	}
	runsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "list stored runs",
			RunE:  listRuns,
		},
		&cobra.Command{
			Use:   "export [run_id]",
			Short: "export a run as JSON",
			Args:  cobra.ExactArgs(1),
			RunE:  exportRun(storage.ExportJSON),
		},
		&cobra.Command{
			Use:   "export-csv [run_id]",
			Short: "export a run's gradient as CSV",
			Args:  cobra.ExactArgs(1),
			RunE:  exportRun(storage.ExportCSV),
		},
		&cobra.Command{
			Use:   "delete [run_id]",
			Short: "delete a stored run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := storage.Open(dataPath)
				if err != nil {
					return err
				}
				defer st.Close()
				return st.Delete(args[0])
			},
		},
	)

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored gradient run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range registry.List() {
				m, err := registry.Get(name)
				if err != nil {
					return err
				}
				fmt.Printf("%s (%d states, params: %v)\n", name, m.StateDim(), m.ParamNames())
			}
			return nil
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := config.ListPresets(args[0])
			if len(names) == 0 {
				fmt.Printf("no presets for model: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range names {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	rootCmd.AddCommand(gradientCmd, forwardCmd, compareCmd, fitCmd, runsCmd, plotCmd, modelsCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addProblemFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&method, "method", config.DefaultMethod, "integration method (dopri5|rk4)")
	cmd.Flags().Float64Var(&initDt, "dt", 0, "fixed step size (required for rk4)")
	cmd.Flags().Float64Var(&absTol, "abstol", config.DefaultAbsTol, "absolute tolerance")
	cmd.Flags().Float64Var(&relTol, "reltol", config.DefaultRelTol, "relative tolerance")
	cmd.Flags().Float64SliceVar(&obsTimes, "obs", nil, "observation times")
	cmd.Flags().Float64SliceVar(&initState, "u0", nil, "initial state override")
	cmd.Flags().Float64SliceVar(&params, "params", nil, "parameter override")
	cmd.Flags().Float64Var(&t0Flag, "t0", 0, "span start override")
	cmd.Flags().Float64Var(&tfFlag, "tf", 0, "span end override")
	cmd.Flags().StringVar(&preset, "preset", "", "use a preset configuration")
}

func addAlgorithmFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&algorithm, "algorithm", config.DefaultAlgorithm, "gradient algorithm")
	cmd.Flags().StringVar(&adMode, "autodiff", config.DefaultAutodiff, "derivative provider (user_jacobian|finite_diff)")
	cmd.Flags().Float64Var(&quadAbs, "quad-abstol", 0, "quadrature adjoint tolerance override")
	cmd.Flags().Float64Var(&quadRel, "quad-reltol", 0, "quadrature adjoint tolerance override")
	cmd.Flags().BoolVar(&useCkpt, "checkpoint", false, "checkpoint the forward trajectory")
	cmd.Flags().Float64SliceVar(&ckptTimes, "checkpoint-times", nil, "explicit checkpoint times")
	cmd.Flags().BoolVar(&resync, "resync", false, "re-anchor backsolve at checkpoints")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat stability warnings as errors")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "evaluate sensitivity columns concurrently")
}

// effectiveConfig merges defaults, preset, config file and changed
// flags, in that order.
func effectiveConfig(cmd *cobra.Command, model string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		p := config.GetPreset(model, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset %q (available: %v)", preset, config.ListPresets(model))
		}
		cfg = p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	cfg.Model = model

	flagSet := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if flagSet("algorithm") {
		cfg.Algorithm = algorithm
	}
	if flagSet("autodiff") {
		cfg.Autodiff = adMode
	}
	if flagSet("method") {
		cfg.Method = method
	}
	if flagSet("dt") {
		cfg.Dt = initDt
	}
	if flagSet("abstol") {
		cfg.AbsTol = absTol
	}
	if flagSet("reltol") {
		cfg.RelTol = relTol
	}
	if flagSet("quad-abstol") {
		cfg.QuadAbsTol = quadAbs
	}
	if flagSet("quad-reltol") {
		cfg.QuadRelTol = quadRel
	}
	if flagSet("obs") {
		cfg.Observations = obsTimes
	}
	if flagSet("u0") {
		cfg.InitState = initState
	}
	if flagSet("params") {
		cfg.Params = params
	}
	if flagSet("t0") {
		v := t0Flag
		cfg.T0 = &v
	}
	if flagSet("tf") {
		v := tfFlag
		cfg.TF = &v
	}
	if flagSet("checkpoint") {
		cfg.Checkpoint.Enabled = useCkpt
	}
	if flagSet("checkpoint-times") {
		cfg.Checkpoint.Enabled = true
		cfg.Checkpoint.Times = ckptTimes
	}
	if flagSet("resync") {
		cfg.Resync = resync
	}
	if flagSet("strict") {
		cfg.Strict = strict
	}
	if flagSet("parallel") {
		cfg.Parallel = parallel
	}
	if flagSet("lr") {
		cfg.Fit.LearnRate = learnRate
	}
	if flagSet("max-iters") {
		cfg.Fit.MaxIters = maxIters
	}
	if flagSet("tol") {
		cfg.Fit.Tol = fitTol
	}
	if flagSet("fit-initial") {
		cfg.Fit.FitInitial = fitInitial
	}
	return cfg, nil
}

// buildProblem resolves the model and applies config overrides.
func buildProblem(cfg *config.Config) (ode.Problem, models.Model, error) {
	prob, model, err := registry.Problem(cfg.Model)
	if err != nil {
		return ode.Problem{}, nil, err
	}
	if len(cfg.InitState) > 0 {
		prob = prob.WithState(ode.State(cfg.InitState).Clone())
	}
	if len(cfg.Params) > 0 {
		prob = prob.WithParams(ode.Params(cfg.Params).Clone())
	}
	t0, tf := prob.T0, prob.TF
	if cfg.T0 != nil {
		t0 = *cfg.T0
	}
	if cfg.TF != nil {
		tf = *cfg.TF
	}
	prob = prob.WithSpan(t0, tf)
	return prob, model, prob.Validate()
}

func solverOptions(cfg *config.Config) (integrate.Options, error) {
	meth, err := integrate.ParseMethod(cfg.Method)
	if err != nil {
		return integrate.Options{}, err
	}
	opts := integrate.DefaultOptions()
	opts.Method = meth
	opts.InitDt = cfg.Dt
	opts.AbsTol = cfg.AbsTol
	opts.RelTol = cfg.RelTol
	return opts, nil
}

// observationCost builds the discrete cost: squared residual against
// CSV data when given, otherwise the summed observed state.
func observationCost(cfg *config.Config, prob ode.Problem) (*adjoint.DiscreteCost, error) {
	if dataFile != "" {
		obs, err := loadObservations(dataFile, prob.Sys.StateDim())
		if err != nil {
			return nil, err
		}
		return obs.Cost(), nil
	}

	times := cfg.Observations
	if len(times) == 0 {
		times = []float64{prob.TF}
	}
	return &adjoint.DiscreteCost{
		Times: times,
		Grad: func(dst ode.State, u ode.State, p ode.Params, t float64, i int) {
			for k := range dst {
				dst[k] = 1
			}
		},
		Loss: func(u ode.State, p ode.Params, t float64, i int) float64 {
			sum := 0.0
			for _, v := range u {
				sum += v
			}
			return sum
		},
	}, nil
}

func buildRequest(cfg *config.Config, prob ode.Problem) (gradient.Request, error) {
	alg, err := gradient.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return gradient.Request{}, err
	}
	provider, err := autodiff.Parse(cfg.Autodiff, 0)
	if err != nil {
		return gradient.Request{}, err
	}
	cost, err := observationCost(cfg, prob)
	if err != nil {
		return gradient.Request{}, err
	}
	solver, err := solverOptions(cfg)
	if err != nil {
		return gradient.Request{}, err
	}
	return gradient.Request{
		Problem:    prob,
		Algorithm:  alg,
		Provider:   provider,
		Solver:     solver,
		QuadAbsTol: cfg.QuadAbsTol,
		QuadRelTol: cfg.QuadRelTol,
		Discrete:   cost,
		Checkpoint: gradient.CheckpointPolicy{Enabled: cfg.Checkpoint.Enabled, Times: cfg.Checkpoint.Times},
		Resync:     cfg.Resync,
		Parallel:   cfg.Parallel,
		Strict:     cfg.Strict,
	}, nil
}

func runGradient(cmd *cobra.Command, args []string) error {
	cfg, err := effectiveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	prob, model, err := buildProblem(cfg)
	if err != nil {
		return err
	}
	req, err := buildRequest(cfg, prob)
	if err != nil {
		return err
	}

	logger.Info("computing gradient", "model", cfg.Model, "algorithm", cfg.Algorithm)
	start := time.Now()
	res, err := gradient.Compute(context.Background(), req)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	printGradient(res, cfg.Model, model.ParamNames(), elapsed)

	if noSave {
		return nil
	}
	st, err := storage.Open(dataPath)
	if err != nil {
		return err
	}
	defer st.Close()

	run := &storage.Run{
		Model:     cfg.Model,
		Algorithm: res.Algorithm.String(),
		AbsTol:    cfg.AbsTol,
		RelTol:    cfg.RelTol,
		Elapsed:   elapsed,
		Loss:      res.Loss,
		LossKnown: res.LossKnown,
		DU0:       res.DU0,
		DP:        res.DP,
		Warnings:  res.Warnings,
	}
	id, err := st.Save(run)
	if err != nil {
		return err
	}
	fmt.Println(viz.DimStyle.Render("run id: " + id))
	return nil
}

func printGradient(res *gradient.Result, model string, paramNames []string, elapsed time.Duration) {
	fmt.Println(viz.TitleStyle.Render(fmt.Sprintf("%s gradient (%s)", model, res.Algorithm)))
	for _, warning := range res.Warnings {
		fmt.Println(viz.WarnStyle.Render("warning: " + warning))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if res.LossKnown {
		fmt.Fprintf(w, "loss\t%.8g\n", res.Loss)
	}
	for i, v := range res.DU0 {
		fmt.Fprintf(w, "d/du0[%d]\t%.8g\n", i, v)
	}
	for j, v := range res.DP {
		name := fmt.Sprintf("p%d", j)
		if j < len(paramNames) {
			name = paramNames[j]
		}
		fmt.Fprintf(w, "d/d%s\t%.8g\n", name, v)
	}
	fmt.Fprintf(w, "forward steps\t%d (%d rejected)\n", res.Forward.Steps, res.Forward.Rejected)
	if res.Backward.Steps > 0 {
		fmt.Fprintf(w, "backward steps\t%d (%d rejected)\n", res.Backward.Steps, res.Backward.Rejected)
	}
	if res.Drift >= 0 {
		fmt.Fprintf(w, "resync drift\t%.3g\n", res.Drift)
	}
	fmt.Fprintf(w, "elapsed\t%v\n", elapsed)
	w.Flush()
}

func runForward(cmd *cobra.Command, args []string) error {
	cfg, err := effectiveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	prob, model, err := buildProblem(cfg)
	if err != nil {
		return err
	}
	n, m := prob.Sys.StateDim(), prob.Sys.ParamDim()
	if stateIdx < 0 || stateIdx >= n {
		return fmt.Errorf("%w: state index %d for %d states", ode.ErrConfig, stateIdx, n)
	}
	if paramIdx < 0 || paramIdx >= m {
		return fmt.Errorf("%w: parameter index %d for %d parameters", ode.ErrConfig, paramIdx, m)
	}

	provider, err := autodiff.Parse(cfg.Autodiff, 0)
	if err != nil {
		return err
	}
	solver, err := solverOptions(cfg)
	if err != nil {
		return err
	}

	_, ext, stats, err := sensitivity.ForwardSensitivity(context.Background(), prob, provider,
		sensitivity.Options{Solver: solver, Parallel: cfg.Parallel})
	if err != nil {
		return err
	}

	_, sens := ext.Series()
	data := make([]float64, len(sens))
	for k := range sens {
		data[k] = sens[k][paramIdx][stateIdx]
	}

	pname := fmt.Sprintf("p%d", paramIdx)
	if names := model.ParamNames(); paramIdx < len(names) {
		pname = names[paramIdx]
	}
	fmt.Println(viz.TitleStyle.Render(fmt.Sprintf("%s forward sensitivity", cfg.Model)))
	fmt.Println(asciigraph.Plot(data,
		asciigraph.Height(14), asciigraph.Width(80),
		asciigraph.Caption(fmt.Sprintf("du[%d]/d%s over time", stateIdx, pname))))

	uT, sensT := ext.Terminal()
	fmt.Printf("\nterminal state: %v\n", []float64(uT))
	fmt.Println("terminal sensitivities:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for j, col := range sensT {
		name := fmt.Sprintf("p%d", j)
		if names := model.ParamNames(); j < len(names) {
			name = names[j]
		}
		fmt.Fprintf(w, "du/d%s\t%v\n", name, []float64(col))
	}
	fmt.Fprintf(w, "steps\t%d (%d rejected)\n", stats.Steps, stats.Rejected)
	return w.Flush()
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, err := effectiveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	prob, _, err := buildProblem(cfg)
	if err != nil {
		return err
	}

	algs := []gradient.Algorithm{
		gradient.ForwardSensitivity,
		gradient.InterpolatingAdjoint,
		gradient.BacksolveAdjoint,
		gradient.QuadratureAdjoint,
	}

	fmt.Println(viz.TitleStyle.Render(cfg.Model + " algorithm comparison"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALGORITHM\tLOSS\tDP\tSTEPS\tTIME")

	var results []*gradient.Result
	for _, alg := range algs {
		cfg.Algorithm = alg.String()
		req, err := buildRequest(cfg, prob)
		if err != nil {
			return err
		}
		start := time.Now()
		res, err := gradient.Compute(context.Background(), req)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", alg, err)
			continue
		}
		results = append(results, res)
		fmt.Fprintf(w, "%s\t%.6g\t%v\t%d\t%v\n",
			alg, res.Loss, []float64(res.DP), res.Forward.Steps+res.Backward.Steps, elapsed)
	}
	w.Flush()

	if len(results) > 1 {
		fmt.Printf("\nmax pairwise deviation: %.3g\n", maxDeviation(results))
	}
	return nil
}

// maxDeviation is the largest absolute difference between any two
// algorithms' gradient components.
func maxDeviation(results []*gradient.Result) float64 {
	max := 0.0
	for a := 0; a < len(results); a++ {
		for b := a + 1; b < len(results); b++ {
			for j := range results[a].DP {
				if d := abs(results[a].DP[j] - results[b].DP[j]); d > max {
					max = d
				}
			}
			for k := range results[a].DU0 {
				if d := abs(results[a].DU0[k] - results[b].DU0[k]); d > max {
					max = d
				}
			}
		}
	}
	return max
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := effectiveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	prob, model, err := buildProblem(cfg)
	if err != nil {
		return err
	}

	obs, err := fitObservations(cfg, prob, model)
	if err != nil {
		return err
	}

	alg, err := gradient.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return err
	}
	provider, err := autodiff.Parse(cfg.Autodiff, 0)
	if err != nil {
		return err
	}
	solver, err := solverOptions(cfg)
	if err != nil {
		return err
	}

	opts := calibrate.Options{
		Algorithm:  alg,
		Provider:   provider,
		Solver:     solver,
		Checkpoint: gradient.CheckpointPolicy{Enabled: cfg.Checkpoint.Enabled, Times: cfg.Checkpoint.Times},
		LearnRate:  cfg.Fit.LearnRate,
		MaxIters:   cfg.Fit.MaxIters,
		Tol:        cfg.Fit.Tol,
		FitInitial: cfg.Fit.FitInitial,
	}
	if len(seedLo) > 0 {
		opts.Seed = &calibrate.GridSeed{Lo: seedLo, Hi: seedHi, Steps: seedSteps}
	}

	logger.Info("fitting", "model", cfg.Model, "observations", len(obs.Times))

	var res *calibrate.Result
	if live {
		res, err = viz.Run(context.Background(), cfg.Model, model.ParamNames(),
			func(ctx context.Context, progress func(calibrate.Iteration)) (*calibrate.Result, error) {
				return calibrate.Fit(ctx, prob, obs, opts, progress)
			})
	} else {
		res, err = calibrate.Fit(context.Background(), prob, obs, opts, nil)
	}
	if err != nil {
		return err
	}

	fmt.Println(viz.TitleStyle.Render(cfg.Model + " calibration result"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	names := model.ParamNames()
	for j, v := range res.Params {
		name := fmt.Sprintf("p%d", j)
		if j < len(names) {
			name = names[j]
		}
		fmt.Fprintf(w, "%s\t%.8g\n", name, v)
	}
	if cfg.Fit.FitInitial {
		for i, v := range res.U0 {
			fmt.Fprintf(w, "u0[%d]\t%.8g\n", i, v)
		}
	}
	fmt.Fprintf(w, "loss\t%.8g\n", res.Loss)
	fmt.Fprintf(w, "iterations\t%d\n", res.Iters)
	fmt.Fprintf(w, "converged\t%v\n", res.Converged)
	return w.Flush()
}

// fitObservations loads CSV data or synthesizes observations from the
// reference parameters.
func fitObservations(cfg *config.Config, prob ode.Problem, model models.Model) (calibrate.Observations, error) {
	if dataFile != "" {
		return loadObservations(dataFile, prob.Sys.StateDim())
	}

	times := cfg.Observations
	if len(times) == 0 {
		span := prob.TF - prob.T0
		for i := 1; i <= 8; i++ {
			times = append(times, prob.T0+span*float64(i)/8)
		}
	}

	ref := prob
	if len(trueParams) > 0 {
		ref = prob.WithParams(ode.Params(trueParams).Clone())
	} else if len(cfg.Params) == 0 {
		return calibrate.Observations{}, fmt.Errorf("%w: synthetic fit needs --true-params or a --params starting point distinct from the data", ode.ErrConfig)
	} else {
		ref = prob.WithParams(model.DefaultParams())
	}

	opts, err := solverOptions(cfg)
	if err != nil {
		return calibrate.Observations{}, err
	}
	opts.Dense = true
	traj, _, err := integrate.Solve(context.Background(), ref, opts)
	if err != nil {
		return calibrate.Observations{}, fmt.Errorf("synthesizing observations: %w", err)
	}
	data := make([]ode.State, len(times))
	for i, t := range times {
		data[i], err = traj.At(t)
		if err != nil {
			return calibrate.Observations{}, err
		}
	}
	return calibrate.Observations{Times: times, Data: data}, nil
}

// loadObservations reads time,u0,u1,... rows, skipping a header line.
func loadObservations(path string, n int) (calibrate.Observations, error) {
	f, err := os.Open(path)
	if err != nil {
		return calibrate.Observations{}, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return calibrate.Observations{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var obs calibrate.Observations
	for i, row := range rows {
		if len(row) != n+1 {
			return calibrate.Observations{}, fmt.Errorf("%w: row %d has %d columns, want %d", ode.ErrDimensionMismatch, i+1, len(row), n+1)
		}
		t, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return calibrate.Observations{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		u := make(ode.State, n)
		for k := 0; k < n; k++ {
			if u[k], err = strconv.ParseFloat(row[k+1], 64); err != nil {
				return calibrate.Observations{}, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		obs.Times = append(obs.Times, t)
		obs.Data = append(obs.Data, u)
	}
	return obs, nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := storage.Open(dataPath)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tALGORITHM\tTIME\tLOSS\tELAPSED\tWARNINGS")
	for _, run := range runs {
		loss := "-"
		if run.LossKnown {
			loss = fmt.Sprintf("%.6g", run.Loss)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%d\n",
			run.ID, run.Model, run.Algorithm,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			loss, run.Elapsed, len(run.Warnings))
	}
	return w.Flush()
}

func exportRun(export func(w io.Writer, run *storage.Run) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := storage.Open(dataPath)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.Load(args[0])
		if err != nil {
			return err
		}
		return export(os.Stdout, run)
	}
}

func plotRun(cmd *cobra.Command, args []string) error {
	st, err := storage.Open(dataPath)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Println(viz.TitleStyle.Render(fmt.Sprintf("%s / %s (%s)", run.Model, run.Algorithm, run.ID)))
	for _, warning := range run.Warnings {
		fmt.Println(viz.WarnStyle.Render("warning: " + warning))
	}

	if len(run.DU0) > 1 {
		fmt.Println(asciigraph.Plot(run.DU0,
			asciigraph.Height(8), asciigraph.Width(60),
			asciigraph.Caption("d(cost)/d(u0) by component")))
		fmt.Println()
	}
	if len(run.DP) > 1 {
		fmt.Println(asciigraph.Plot(run.DP,
			asciigraph.Height(8), asciigraph.Width(60),
			asciigraph.Caption("d(cost)/d(p) by component")))
		fmt.Println()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if run.LossKnown {
		fmt.Fprintf(w, "loss\t%.8g\n", run.Loss)
	}
	for i, v := range run.DU0 {
		fmt.Fprintf(w, "du0[%d]\t%.8g\n", i, v)
	}
	for j, v := range run.DP {
		fmt.Fprintf(w, "dp[%d]\t%.8g\n", j, v)
	}
	return w.Flush()
}
