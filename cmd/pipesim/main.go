// The pipesim command replays a scripted message stream through a
// pipedispatch dispatcher backed by an in-memory pipe, and reports what each
// handler saw. It is useful for checking handler wiring and for watching the
// dispatch metrics under a known load.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bjaus/pipedispatch"
	"github.com/bjaus/pipedispatch/pipetest"
)

type config struct {
	script      string
	mode        string
	fields      []string
	metricsAddr string
	timeout     time.Duration
}

func main() {
	fs := flag.NewFlagSet("pipesim", flag.ContinueOnError)
	var (
		scriptPath  = fs.String("script", "", "path to the TOML script to replay")
		mode        = fs.String("mode", "single", "dispatcher to drive: single, concurrent or readsafe")
		fields      = fs.String("fields", "", "comma-separated gjson paths to print from JSON payloads")
		metricsAddr = fs.String("metrics-addr", "", "serve Prometheus metrics on this address while the script runs")
		timeout     = fs.Duration("timeout", 5*time.Second, "give up if the script has not settled after this long")
		logLevel    = fs.String("log-level", "info", "log level: debug, info, warn or error")
		logFormat   = fs.String("log-format", "console", "log format: console or json")
		_           = fs.String("config", "", "config file (optional)")
	)
	err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PIPESIM"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipesim: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipesim: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	cfg := config{
		script:      *scriptPath,
		mode:        *mode,
		fields:      splitFields(*fields),
		metricsAddr: *metricsAddr,
		timeout:     *timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("log format %q: want console or json", format)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         format,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderCfg,
	}.Build()
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func run(ctx context.Context, cfg config, logger *zap.Logger, out io.Writer) error {
	if cfg.script == "" {
		return errors.New("-script is required")
	}
	s, err := loadScript(cfg.script)
	if err != nil {
		return err
	}
	return simulate(ctx, cfg, s, logger, out)
}

func simulate(ctx context.Context, cfg config, s *script, logger *zap.Logger, out io.Writer) error {
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	pipe := pipetest.New()
	sim := newSimulator(s, cfg.fields, out, logger)
	opts := append(sim.options(),
		pipedispatch.WithLogger(logger.Named("dispatch")),
		pipedispatch.WithMetrics(reg),
		pipedispatch.WithIdleWait(time.Millisecond),
	)

	// simCtx ends the metrics server once the script has settled.
	simCtx, finish := context.WithCancel(ctx)
	defer finish()
	g, gctx := errgroup.WithContext(simCtx)

	if cfg.metricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()))
		srv := &http.Server{
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer finish()
		switch cfg.mode {
		case "single":
			return driveSingle(gctx, pipe, sim, opts)
		case "concurrent":
			return driveConcurrent(gctx, pipe, sim, pipedispatch.LockDefault, opts)
		case "readsafe":
			return driveConcurrent(gctx, pipe, sim, pipedispatch.LockReadSafe, opts)
		default:
			return fmt.Errorf("unknown mode %q", cfg.mode)
		}
	})

	err := g.Wait()
	sim.report()
	if err != nil {
		return err
	}
	return pipe.Err()
}

func driveSingle(ctx context.Context, pipe *pipetest.Pipe, sim *simulator, opts []pipedispatch.Option) error {
	d, err := pipedispatch.New(pipe, opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	sim.feed(pipe, sim.register(d, pipe))

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	err = sim.wait(ctx)
	d.Shutdown()
	if rerr := <-runErr; err == nil && !errors.Is(rerr, context.Canceled) {
		err = rerr
	}
	return err
}

func driveConcurrent(ctx context.Context, pipe *pipetest.Pipe, sim *simulator, mode pipedispatch.LockMode, opts []pipedispatch.Option) error {
	guard, err := pipedispatch.NewGuard(pipe, mode, opts...)
	if err != nil {
		return err
	}
	defer guard.Close()

	sim.feed(pipe, sim.register(guard.Dispatcher(), pipe))
	return sim.wait(ctx)
}
