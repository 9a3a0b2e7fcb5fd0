package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ansel1/subunit/engine"
	"github.com/ansel1/subunit/internal/config"
	"github.com/ansel1/subunit/internal/history"
	"github.com/ansel1/subunit/internal/history/sqlite"
	"github.com/ansel1/subunit/internal/logger"
	"github.com/ansel1/subunit/internal/metrics"
	"github.com/ansel1/subunit/output"
	"github.com/ansel1/subunit/results"
	"github.com/ansel1/subunit/subunit"
	"github.com/ansel1/subunit/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// GlobalFlags holds flags shared by every command.
type GlobalFlags struct {
	ConfigPath    string
	NoPassthrough bool
	Filter        engine.FilterOptions
}

// StatsFlags holds flags for the stats command
type StatsFlags struct {
	YAML          bool
	SlowThreshold time.Duration
}

// WatchFlags holds flags for the watch command
type WatchFlags struct {
	Replay        bool
	Rate          float64
	SlowThreshold time.Duration
}

// session is what a command needs once flags and config are resolved.
type session struct {
	cfg     *config.Config
	log     *slog.Logger
	sink    *sqlite.Sink // nil unless history is enabled
	cleanup []func()
}

func (s *session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	v := config.New()
	globalFlags := &GlobalFlags{}
	statsFlags := &StatsFlags{}
	watchFlags := &WatchFlags{}

	root := &cobra.Command{
		Use:   "subunit",
		Short: "Decode, merge, filter and summarize subunit test result streams",
		Long: `subunit reads subunit v1 text or binary streams from files or stdin,
merges them, and writes them back out, summarizes them, or shows them live.

Examples:
  ./run-tests | subunit filter --no-success
  subunit filter --format binary a.subunit b.subunit > merged.subunit
  subunit stats --yaml results.subunit
  ./run-tests | subunit watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&globalFlags.ConfigPath, "config", "", "path to YAML config file (default ./subunit.yaml when present)")
	pf.String("format", "text", "output wire format: text or binary")
	pf.BoolVar(&globalFlags.NoPassthrough, "no-passthrough", false, "drop non-protocol lines instead of passing them through")
	pf.Bool("fail-fast", false, "stop every input at the first stream error")
	pf.String("order", "arrival", "merge order: arrival or timestamp")
	pf.Bool("resync", false, "skip to the next frame after a corrupt binary frame")
	pf.Bool("strict", false, "treat outcomes without a matching start as protocol errors")
	pf.String("log-level", "error", "log level: debug, info, warn or error")
	pf.String("log-file", "", "also write logs to this file, rotated")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	pf.String("history", "", "record finished tests to this SQLite DSN, e.g. sqlite://history.db")

	pf.BoolVar(&globalFlags.Filter.NoSuccess, "no-success", false, "exclude successful tests")
	pf.BoolVar(&globalFlags.Filter.NoSkip, "no-skip", false, "exclude skipped tests")
	pf.BoolVar(&globalFlags.Filter.NoFailure, "no-failure", false, "exclude failed tests")
	pf.BoolVar(&globalFlags.Filter.NoError, "no-error", false, "exclude errored tests")
	pf.BoolVarP(&globalFlags.Filter.OnlyGenuineFailures, "only-genuine-failures", "F", false, "keep only failures and errors")
	pf.StringArrayVar(&globalFlags.Filter.With, "with", nil, "keep only tests whose id matches this regexp (repeatable)")
	pf.StringArrayVar(&globalFlags.Filter.Without, "without", nil, "exclude tests whose id matches this regexp (repeatable)")

	root.AddCommand(
		createFilterCommand(v, globalFlags),
		createStatsCommand(v, globalFlags, statsFlags),
		createWatchCommand(v, globalFlags, watchFlags),
	)
	return root
}

func createFilterCommand(v *viper.Viper, gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "filter [files...]",
		Short: "Merge and filter streams, re-encoding them to stdout",
		Long: `Decode every input (stdin when no files are given), drop the test events
the filter flags reject, and write the merged result to stdout. Stream
errors are written into the output as error events and reported on stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v, gf)
			if err != nil {
				return err
			}
			defer s.close()

			format, err := subunit.ParseFormat(s.cfg.Format)
			if err != nil {
				return err
			}
			eng, err := newEngine(s, gf)
			if err != nil {
				return err
			}
			inputs, closeInputs, err := openInputs(cmd, args)
			if err != nil {
				return err
			}
			defer closeInputs()

			enc := subunit.NewEncoder(cmd.OutOrStdout(), subunit.WithFormat(format))
			stats, err := eng.Run(cmd.Context(), enc, inputs...)
			for _, serr := range stats.StreamErrors {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), serr)
			}
			s.log.Info("filter finished", "streams", stats.Streams, "events", stats.Events, "lines", stats.Lines, "errors", stats.Errors)

			var serr *engine.StreamError
			if errors.As(err, &serr) {
				// already reported above
				return &exitError{code: 1}
			}
			return err
		},
	}
}

func createStatsCommand(v *viper.Viper, gf *GlobalFlags, sf *StatsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [files...]",
		Short: "Summarize streams",
		Long: `Decode and merge every input and print a summary of the results.
Exits with status 1 when any test failed or errored, or any stream broke.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, v, gf)
			if err != nil {
				return err
			}
			defer s.close()

			eng, err := newEngine(s, gf)
			if err != nil {
				return err
			}
			inputs, closeInputs, err := openInputs(cmd, args)
			if err != nil {
				return err
			}
			defer closeInputs()

			collector := results.NewCollector()
			g := followHistory(cmd.Context(), s, collector)

			simple := output.NewSimpleOutput(cmd.OutOrStdout(),
				output.WithErrorWriter(cmd.ErrOrStderr()),
				output.WithCollector(collector),
				output.WithPassthrough(s.cfg.Passthrough),
				output.WithYAML(sf.YAML),
				output.WithSlowThreshold(sf.SlowThreshold),
				output.WithColors(isTerminal(cmd.OutOrStdout())),
			)
			err = simple.ProcessEvents(eng.Stream(cmd.Context(), inputs...))
			collector.Close()
			if herr := g.Wait(); herr != nil {
				s.log.Warn("history incomplete", "error", herr)
			}
			if err != nil {
				return err
			}
			if simple.HasFailures() {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sf.YAML, "yaml", false, "write the summary as YAML")
	cmd.Flags().DurationVar(&sf.SlowThreshold, "slow", 10*time.Second, "list tests slower than this, 0 to disable")
	return cmd
}

func createWatchCommand(v *viper.Viper, gf *GlobalFlags, wf *WatchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [files...]",
		Short: "Show streams live",
		Long: `Decode and merge every input and show progress as it happens, then print
a summary. Falls back to the stats output when stdout is not a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wf.Replay && len(args) == 0 {
				return errors.New("--replay requires input files")
			}
			if wf.Rate < 0 {
				return errors.New("--rate must be >= 0")
			}

			s, err := openSession(cmd, v, gf)
			if err != nil {
				return err
			}
			defer s.close()

			eng, err := newEngine(s, gf)
			if err != nil {
				return err
			}
			inputs, closeInputs, err := openInputs(cmd, args)
			if err != nil {
				return err
			}
			defer closeInputs()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			events := eng.Stream(ctx, inputs...)
			if wf.Replay {
				events = engine.Replay(ctx, events, wf.Rate)
			}

			collector := results.NewCollector()
			hist := followHistory(ctx, s, collector)

			if !isTerminal(cmd.OutOrStdout()) {
				simple := output.NewSimpleOutput(cmd.OutOrStdout(),
					output.WithErrorWriter(cmd.ErrOrStderr()),
					output.WithCollector(collector),
					output.WithPassthrough(s.cfg.Passthrough),
					output.WithSlowThreshold(wf.SlowThreshold),
				)
				err := simple.ProcessEvents(events)
				collector.Close()
				if herr := hist.Wait(); herr != nil {
					s.log.Warn("history incomplete", "error", herr)
				}
				if err != nil {
					return err
				}
				if simple.HasFailures() {
					return &exitError{code: 1}
				}
				return nil
			}

			m := tui.NewModel(wf.Replay, wf.Rate, collector)
			opts := []tea.ProgramOption{tea.WithOutput(cmd.OutOrStdout()), tea.WithContext(ctx)}
			if len(args) == 0 {
				// stdin carries the stream
				opts = append(opts, tea.WithInputTTY())
			}
			p := tea.NewProgram(m, opts...)

			sub := collector.Subscribe()
			var g errgroup.Group
			g.Go(func() error {
				collector.ProcessEvents(events)
				return nil
			})
			g.Go(func() error {
				for evt := range sub {
					p.Send(tui.ResultsEventMsg(evt))
				}
				p.Send(tui.EOFMsg{})
				return nil
			})

			_, runErr := p.Run()
			// stop the inputs if the user quit early
			cancel()
			_ = g.Wait()
			if herr := hist.Wait(); herr != nil {
				s.log.Warn("history incomplete", "error", herr)
			}
			if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
				return fmt.Errorf("running program: %w", runErr)
			}

			m.DisplaySummary(cmd.OutOrStdout(), wf.SlowThreshold)
			for _, line := range serrLines(collector) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), line)
			}
			if run := collector.LastRun(); run != nil && run.Failed() {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wf.Replay, "replay", false, "replay inputs with their recorded timing")
	cmd.Flags().Float64Var(&wf.Rate, "rate", 1.0, "replay delay multiplier (0=instant, 1=original speed, 0.5=2x speed)")
	cmd.Flags().DurationVar(&wf.SlowThreshold, "slow", 10*time.Second, "list tests slower than this, 0 to disable")
	return cmd
}

// openSession resolves configuration and sets up logging, metrics and history.
func openSession(cmd *cobra.Command, v *viper.Viper, gf *GlobalFlags) (*session, error) {
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	if gf.NoPassthrough {
		v.Set("passthrough", false)
	}
	cfg, err := config.Load(v, gf.ConfigPath)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	log, closer, err := logger.New(cmd.ErrOrStderr(), logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Color:      isTerminal(cmd.ErrOrStderr()),
		ShowTime:   cfg.Log.ShowTime,
	})
	if err != nil {
		return nil, err
	}
	s.log = log
	s.cleanup = append(s.cleanup, func() { _ = closer.Close() })

	if cfg.Metrics.Addr != "" {
		if err := serveMetrics(s, cfg.Metrics.Addr); err != nil {
			s.close()
			return nil, err
		}
	}

	if cfg.History.DSN != "" {
		sink, err := sqlite.New(cfg.History.DSN)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		s.sink = sink
		s.cleanup = append(s.cleanup, func() { _ = sink.Close() })
	}
	return s, nil
}

func serveMetrics(s *session, addr string) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server error", "error", err)
		}
	}()
	s.log.Info("serving metrics", "addr", ln.Addr().String())
	s.cleanup = append(s.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return nil
}

func newEngine(s *session, gf *GlobalFlags) (*engine.Engine, error) {
	filter, err := engine.FilterFromOptions(gf.Filter)
	if err != nil {
		return nil, err
	}
	order, err := engine.ParseOrder(s.cfg.Order)
	if err != nil {
		return nil, err
	}

	policy := subunit.PassThrough
	if !s.cfg.Passthrough {
		policy = subunit.Drop
	}
	return engine.NewEngine(
		engine.WithFilter(filter),
		engine.WithFailFast(s.cfg.FailFast),
		engine.WithOrder(order),
		engine.WithLogger(s.log),
		engine.WithDecoderOptions(
			subunit.WithNonProtocol(policy),
			subunit.WithResync(s.cfg.Resync),
			subunit.WithStrictPairing(s.cfg.Strict),
		),
	), nil
}

// openInputs opens each named file, or stdin when there are none. "-"
// names stdin.
func openInputs(cmd *cobra.Command, args []string) ([]engine.Input, func(), error) {
	if len(args) == 0 {
		return []engine.Input{{ID: "stdin", Reader: cmd.InOrStdin()}}, func() {}, nil
	}

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	inputs := make([]engine.Input, 0, len(args))
	for _, name := range args {
		if name == "-" {
			inputs = append(inputs, engine.Input{ID: "stdin", Reader: cmd.InOrStdin()})
			continue
		}
		f, err := os.Open(name)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("opening input: %w", err)
		}
		files = append(files, f)
		inputs = append(inputs, engine.Input{ID: name, Reader: f})
	}
	return inputs, closeAll, nil
}

// followHistory records finished tests from collector when history is
// enabled. Wait on the returned group after closing the collector.
func followHistory(ctx context.Context, s *session, collector *results.Collector) *errgroup.Group {
	g := &errgroup.Group{}
	if s.sink == nil {
		return g
	}
	sub := collector.Subscribe()
	g.Go(func() error {
		return history.Follow(context.WithoutCancel(ctx), s.sink, collector, sub, s.log)
	})
	return g
}

// serrLines returns the stream errors of the last run, one line each.
func serrLines(collector *results.Collector) []string {
	var lines []string
	collector.WithState(func(state *results.State) {
		if len(state.Runs) == 0 {
			return
		}
		run := state.Runs[len(state.Runs)-1]
		for _, id := range run.StreamOrder {
			lines = append(lines, run.Streams[id].Errors...)
		}
	})
	return lines
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
