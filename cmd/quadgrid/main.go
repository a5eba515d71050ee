package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/san-kum/quadgrid/internal/comparison"
	"github.com/san-kum/quadgrid/internal/config"
	"github.com/san-kum/quadgrid/internal/controllers"
	"github.com/san-kum/quadgrid/internal/ddmpc"
	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/optim"
	"github.com/san-kum/quadgrid/internal/plotting"
	"github.com/san-kum/quadgrid/internal/sim"
	"github.com/san-kum/quadgrid/internal/storage"
	"github.com/san-kum/quadgrid/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	seed       int64
	workers    int
	plain      bool
	policyFile string
	chartWidth int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quadgrid",
		Short: "grid search for data-driven MPC drone controllers",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".quadgrid", "data directory")

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "run a parameter grid search",
		RunE:  runSearch,
	}
	searchCmd.Flags().StringVar(&configFile, "config", "", "sweep config file (yaml)")
	searchCmd.Flags().StringVar(&preset, "preset", "", "use a preset sweep")
	searchCmd.Flags().Int64Var(&seed, "seed", 0, "base random seed (0 keeps the config value)")
	searchCmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 uses all cpus)")
	searchCmd.Flags().BoolVar(&plain, "plain", false, "line-based progress instead of the live view")

	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "run tracking, policy and data-driven MPC side by side",
		RunE:  runCompare,
	}
	compareCmd.Flags().StringVar(&configFile, "config", "", "comparison config file (yaml)")
	compareCmd.Flags().StringVar(&policyFile, "policy", "", "policy weights file (json)")
	compareCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 keeps the config value)")

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "collect an excitation dataset and check its rank",
		RunE:  runCollect,
	}
	collectCmd.Flags().StringVar(&configFile, "config", "", "sweep config file (yaml)")
	collectCmd.Flags().StringVar(&preset, "preset", "quick", "use a preset sweep")
	collectCmd.Flags().Int64Var(&seed, "seed", 1, "random seed")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded runs and sweeps",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&chartWidth, "width", 60, "terminal chart width")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a recorded run as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	bestCmd := &cobra.Command{
		Use:   "best [sweep_id]",
		Short: "show the fully successful combinations of a recorded sweep",
		Args:  cobra.ExactArgs(1),
		RunE:  bestCombinations,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list preset sweeps",
		RunE:  listPresets,
	}

	rootCmd.AddCommand(searchCmd, compareCmd, collectCmd, listCmd, plotCmd, exportCmd, bestCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSweepConfig() (*config.SweepConfig, error) {
	switch {
	case configFile != "":
		return config.LoadSweep(configFile)
	case preset != "":
		cfg := config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q (try 'quadgrid presets')", preset)
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("either --config or --preset is required")
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadSweepConfig()
	if err != nil {
		return err
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if workers != 0 {
		cfg.Workers = workers
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	dbPath := cfg.Database
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "results.db")
	}
	db, err := storage.OpenResults(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	configYAML := ""
	if configFile != "" {
		if data, err := os.ReadFile(configFile); err == nil {
			configYAML = string(data)
		}
	}

	total := cfg.Grid.Size() * cfg.Evaluation.Replicates
	sweepID, err := db.BeginSweep(configYAML, total)
	if err != nil {
		return err
	}

	ev, err := optim.NewEvaluator(cfg.BuildEval())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var sweep *optim.SweepResult
	if plain {
		ev.OnProgress = func(done, totalRuns int, r optim.RunResult) {
			if err := db.RecordRun(sweepID, r); err != nil {
				fmt.Fprintf(os.Stderr, "record run: %v\n", err)
			}
			status := "ok"
			if !r.OK {
				status = r.Reason
			}
			fmt.Printf("[%d/%d] %s rep %d: %s\n", done, totalRuns, r.Combination, r.Replicate, status)
		}
		sweep, err = ev.Run(ctx, cfg.Grid)
	} else {
		p := tea.NewProgram(tui.NewSweepModel(total))
		ev.OnProgress = func(done, totalRuns int, r optim.RunResult) {
			if err := db.RecordRun(sweepID, r); err != nil {
				fmt.Fprintf(os.Stderr, "record run: %v\n", err)
			}
			p.Send(tui.ResultMsg(r))
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			sweep, err = ev.Run(ctx, cfg.Grid)
			p.Send(tui.DoneMsg{})
		}()
		_, uiErr := p.Run()
		cancel()
		<-done
		if uiErr != nil {
			return uiErr
		}
	}
	if err != nil {
		return err
	}

	successful := sweep.Successful()
	if err := db.FinishSweep(sweepID, len(successful)); err != nil {
		return err
	}

	fmt.Printf("\nsweep %d: %d/%d combinations successful\n",
		sweepID, len(successful), len(sweep.Combinations))
	if len(successful) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "idx\tN\tn\tL\tlamb_alpha\tlamb_sigma\tlamb_alpha_s\tlamb_sigma_s\ttracking_err")
		for _, cr := range successful {
			avg := 0.0
			for _, r := range cr.Runs {
				avg += r.TrackingError
			}
			avg /= float64(len(cr.Runs))
			c := cr.Combination
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%g\t%g\t%g\t%g\t%.4f\n",
				c.Index, c.N, c.Order, c.Horizon,
				c.LambdaAlpha, c.LambdaSigma, c.LambdaAlphaS, c.LambdaSigmaS, avg)
		}
		w.Flush()
	}
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	var cfg *config.ComparisonConfig
	var err error
	if configFile != "" {
		cfg, err = config.LoadComparison(configFile)
		if err != nil {
			return err
		}
	} else {
		cfg = config.DefaultComparisonConfig()
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if policyFile != "" {
		cfg.PolicyPath = policyFile
	}

	envCfg := cfg.Env.BuildEnv()
	var samples int
	harnessCfg := comparison.Config{
		EnvConfig:        envCfg,
		Seed:             cfg.Seed,
		StepsPerSetpoint: cfg.StepsPerSetpoint,
		Observers: []sim.Observer{sim.ObserverFunc(func(y sim.State, u sim.Control, t float64) {
			samples++
		})},
	}
	for _, sp := range cfg.Setpoints {
		harnessCfg.Setpoints = append(harnessCfg.Setpoints, append([]float64(nil), sp...))
	}
	h, err := comparison.NewHarness(harnessCfg)
	if err != nil {
		return err
	}

	// collection happens on its own environment so all comparison runs
	// start from an identical initial condition
	collectEnv := env.New(envCfg, cfg.Seed)
	pid := controllers.NewTracking(collectEnv.Target(), collectEnv.StepDt(), collectEnv.NumActions())
	rng := rand.New(rand.NewSource(cfg.Seed))
	data, err := ddmpc.Collect(collectEnv, pid, cfg.Fixed, rng)
	if err != nil {
		return fmt.Errorf("dataset collection: %w", err)
	}
	mpc, err := ddmpc.NewController(cfg.Fixed, data, collectEnv.Target())
	if err != nil {
		return fmt.Errorf("controller construction: %w", err)
	}

	runEnv := env.New(envCfg, cfg.Seed)
	runners := []comparison.Runner{
		&comparison.TrackingRunner{C: controllers.NewTracking(runEnv.Target(), runEnv.StepDt(), runEnv.NumActions())},
		&comparison.DDMPCRunner{C: mpc},
	}
	if cfg.PolicyPath != "" {
		policy, err := controllers.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		runners = append(runners, &comparison.PolicyRunner{P: policy})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	trajs, err := h.Run(ctx, runners...)
	if err != nil {
		return err
	}

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = dataDir
	}
	store := storage.New(outDir)
	if err := store.Init(); err != nil {
		return err
	}

	for i := range trajs {
		runID, err := store.SaveTrajectory(trajs[i], cfg.Seed)
		if err != nil {
			return err
		}
		fmt.Println(plotting.Terminal(&trajs[i], 60))
		fmt.Printf("saved as %s\n\n", runID)
	}
	if err := plotting.SaveComparisonPNG(outDir, trajs); err != nil {
		return err
	}
	fmt.Printf("recorded %d samples across %d controllers\n", samples, len(trajs))
	fmt.Printf("comparison plot written to %s\n", filepath.Join(outDir, "comparison.png"))
	return nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadSweepConfig()
	if err != nil {
		return err
	}

	ps := cfg.Fixed
	if combs := cfg.Grid.Combinations(); len(combs) > 0 {
		ps = combs[0].Apply(ps)
	}

	envCfg := cfg.Env.BuildEnv()
	e := env.New(envCfg, seed)
	pid := controllers.NewTracking(e.Target(), e.StepDt(), e.NumActions())
	rng := rand.New(rand.NewSource(seed))

	start := time.Now()
	data, err := ddmpc.Collect(e, pid, ps, rng)
	if err != nil {
		return err
	}

	depth := ps.Horizon + ps.Order + 1
	h := ddmpc.Hankel(data.U, depth)
	pe := ddmpc.PersistentlyExciting(h, 0)

	path, err := storage.New(dataDir).SaveDataset(data.U, data.Y)
	if err != nil {
		return err
	}

	fmt.Printf("collected %d samples in %s\n", data.Len(), time.Since(start).Round(time.Millisecond))
	fmt.Printf("input hankel depth %d: persistently exciting: %v\n", depth, pe)
	fmt.Printf("drone drift during collection: %.4f m\n", e.DistanceToTarget())
	fmt.Printf("dataset written to %s\n", path)
	return nil
}

func bestCombinations(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("sweep id %q: %w", args[0], err)
	}

	db, err := storage.OpenResults(filepath.Join(dataDir, "results.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	combs, err := db.SuccessfulCombinations(id)
	if err != nil {
		return err
	}
	if len(combs) == 0 {
		fmt.Printf("sweep %d has no fully successful combinations\n", id)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "idx\tN\tn\tL\tlamb_alpha\tlamb_sigma\tlamb_alpha_s\tlamb_sigma_s")
	for _, c := range combs {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%g\t%g\t%g\t%g\n",
			c.Index, c.N, c.Order, c.Horizon,
			c.LambdaAlpha, c.LambdaSigma, c.LambdaAlphaS, c.LambdaSigmaS)
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	runs, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "id\tcontroller\ttime\tsamples\treached\tcrashed\ttracking_err")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%v\t%.4f\n",
			r.ID, r.Controller, r.Timestamp.Format(time.RFC3339),
			r.Samples, r.Reached, r.Crashed, r.Metrics["tracking_error"])
	}
	w.Flush()

	dbPath := filepath.Join(dataDir, "results.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil
	}
	db, err := storage.OpenResults(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	sweeps, err := db.ListSweeps()
	if err != nil {
		return err
	}
	if len(sweeps) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "sweep\tstarted\truns\tsuccessful")
	for _, s := range sweeps {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n",
			s.ID, s.Started.Format(time.RFC3339), s.TotalRuns, s.SuccessfulCombs)
	}
	w.Flush()
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	traj, err := store.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	fmt.Println(plotting.Terminal(traj, chartWidth))

	runDir := filepath.Join(dataDir, args[0])
	if err := plotting.SaveTrajectoryPNG(runDir, traj); err != nil {
		return err
	}
	fmt.Printf("plots written to %s\n", runDir)
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	traj, err := store.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(traj)
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "name\tcombinations\treplicates\tsetpoints")
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n",
			name, cfg.Grid.Size(), cfg.Evaluation.Replicates, len(cfg.Evaluation.Setpoints))
	}
	w.Flush()
	return nil
}
