package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/elfarol/internal/api"
	"github.com/talgya/elfarol/internal/engine"
	"github.com/talgya/elfarol/internal/persistence"
	"github.com/talgya/elfarol/internal/render"
	"github.com/talgya/elfarol/internal/stream"
)

type runOptions struct {
	serve   bool
	watch   bool
	noStore bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation to completion and record it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRunFlags(cmd); err != nil {
			return err
		}
		return runSimulation(cmd.Context(), cmd.OutOrStdout(), runOpts)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a paced simulation behind the HTTP API",
	Long: `serve runs the simulation at the configured api.interval and exposes it
over HTTP. After the last round the results stay available until the
process is interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRunFlags(cmd); err != nil {
			return err
		}
		opts := runOpts
		opts.serve = true
		return runSimulation(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, serveCmd} {
		c.Flags().Int64("seed", 0, "random seed (0 = derive from time)")
		c.Flags().Int("iterations", 0, "number of rounds")
		c.Flags().Int("grid-size", 0, "side length of the grid")
		c.Flags().Int("workers", 0, "parallel workers per phase (0 = GOMAXPROCS)")
		c.Flags().BoolVar(&runOpts.noStore, "no-store", false, "do not record the run")
	}
	runCmd.Flags().BoolVar(&runOpts.watch, "watch", false, "draw the grid after every adaptation phase")
	serveCmd.Flags().Int("port", 0, "HTTP port (default api.port)")
	serveCmd.Flags().Duration("interval", 0, "base time per round (default api.interval)")
}

// applyRunFlags copies explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	if f.Changed("seed") {
		cfg.Simulation.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("iterations") {
		cfg.Simulation.NumIterations, _ = f.GetInt("iterations")
	}
	if f.Changed("grid-size") {
		cfg.Simulation.GridSize, _ = f.GetInt("grid-size")
	}
	if f.Changed("workers") {
		cfg.Simulation.Workers, _ = f.GetInt("workers")
	}
	if f.Lookup("port") != nil && f.Changed("port") {
		cfg.API.Port, _ = f.GetInt("port")
	}
	if f.Lookup("interval") != nil && f.Changed("interval") {
		cfg.API.Interval, _ = f.GetDuration("interval")
	}
	return cfg.Validate()
}

func runSimulation(parent context.Context, out io.Writer, opts runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ecfg, err := cfg.Engine()
	if err != nil {
		return err
	}
	ecfg.DiscardDecisions = !cfg.Storage.KeepDecisions
	sim, err := engine.New(ecfg)
	if err != nil {
		return err
	}
	ecfg = sim.Config()

	// ── Storage ──────────────────────────────────────────────────────
	var (
		store    persistence.Store
		recorder *persistence.Recorder
		runID    string
	)
	if !opts.noStore {
		store, err = openStore(ctx)
		if err != nil {
			return err
		}
	}
	if store != nil {
		defer store.Close()

		yamlCfg := *cfg
		yamlCfg.Simulation.Seed = ecfg.Seed
		data, err := yamlCfg.Marshal()
		if err != nil {
			return err
		}
		run := persistence.NewRunInfo(ecfg, string(data))
		if err := store.CreateRun(ctx, run); err != nil {
			return err
		}
		runID = run.ID
		recorder = &persistence.Recorder{
			Store:         store,
			RunID:         runID,
			BatchSize:     100,
			KeepDecisions: cfg.Storage.KeepDecisions,
		}
	}

	// ── Round feed ───────────────────────────────────────────────────
	var pub *stream.Publisher
	if cfg.Stream.RedisURL != "" {
		client, err := stream.ConnectRedis(cfg.Stream.RedisURL)
		if err != nil {
			return err
		}
		pub = stream.NewPublisher(client, cfg.Stream.Key, cfg.Stream.MaxLen)
		defer pub.Close()
		slog.Info("publishing rounds", "key", cfg.Stream.Key)
	}

	// ── Runner and API ───────────────────────────────────────────────
	runner := engine.NewRunner(sim)
	var server *api.Server
	if opts.serve {
		runner.Interval = cfg.API.Interval
		runner.SetSpeed(cfg.API.Speed)
		server = &api.Server{
			Sim:      sim,
			Runner:   runner,
			Store:    store,
			RunID:    runID,
			Port:     cfg.API.Port,
			AdminKey: os.Getenv("ELFAROL_ADMIN_KEY"),
		}
		httpSrv := server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	runner.OnRound = func(rec engine.RoundRecord) {
		if recorder != nil {
			if err := recorder.Add(ctx, rec); err != nil {
				slog.Warn("recording round failed", "iteration", rec.Iteration, "error", err)
			}
		}
		if pub != nil {
			if _, err := pub.Publish(ctx, stream.NewMessage(runID, rec)); err != nil {
				slog.Warn("publishing round failed", "iteration", rec.Iteration, "error", err)
			}
		}
		if server != nil {
			server.Publish(rec)
		}
	}
	if opts.watch {
		runner.OnUpdate = func(rec engine.RoundRecord) {
			fmt.Fprintln(out, render.Frame(sim.Snapshot(), &rec))
		}
	}

	slog.Info("simulation starting",
		"name", ecfg.Name,
		"population", humanize.Comma(int64(ecfg.Population())),
		"capacity", sim.Capacity(),
		"seed", ecfg.Seed,
		"run_id", runID,
	)
	start := time.Now()
	runErr := runner.Run(ctx)
	interrupted := errors.Is(runErr, context.Canceled)
	if runErr != nil && !interrupted {
		return runErr
	}
	if interrupted {
		slog.Warn("simulation interrupted", "iteration", sim.Iteration())
	}

	// Finish recording even when interrupted; ctx may already be done.
	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := recorder.Flush(saveCtx); err != nil {
			return err
		}
		if err := store.SaveSnapshot(saveCtx, runID, sim.Snapshot()); err != nil {
			return err
		}
		if err := store.FinishRun(saveCtx, runID, sim.Summary()); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, render.Summary(ecfg.Name, sim.Summary(), sim.Series()))
	fmt.Fprintf(out, "\n%s rounds in %s", humanize.Comma(int64(sim.Iteration())), time.Since(start).Round(time.Millisecond))
	if runID != "" {
		fmt.Fprintf(out, ", recorded as %s", runID)
	}
	fmt.Fprintln(out)

	if server != nil && !interrupted {
		slog.Info("run finished; serving results until interrupted", "port", cfg.API.Port)
		<-ctx.Done()
	}
	return nil
}
