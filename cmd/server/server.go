package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iberryful/tarpit/pkg/config"
	"github.com/iberryful/tarpit/pkg/filler"
	"github.com/iberryful/tarpit/pkg/ledger"
	"github.com/iberryful/tarpit/pkg/log"
	"github.com/iberryful/tarpit/pkg/metrics"
	"github.com/iberryful/tarpit/pkg/preamble"
	"github.com/iberryful/tarpit/pkg/report"
	"github.com/iberryful/tarpit/pkg/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tarpit",
	Short: "Stream endless filler bytes to every client",
	Long: `tarpit accepts TCP connections, writes a fixed preamble and then streams
filler bytes to each client until the client goes away.

Every flag can also be set in the YAML file given with --config or through a
TARPIT_<FLAG> environment variable, e.g. TARPIT_CHUNK_SIZE=4096.`,
	SilenceUsage: true,
	RunE:         run,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	d := config.DefaultConfig()
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringP("listen", "l", d.Listen, "listen address")
	f.String("preamble", d.Preamble, "file sent before the filler (default: built in HTTP response header)")
	f.String("filler", d.Filler, "filler kind, zero or random")
	f.Int("chunk-size", d.ChunkSize, "bytes per write")
	f.Duration("pace", 0, "sleep after each chunk (default: 100ns for zero, none for random)")
	f.Int("rate", d.Rate, "max chunks per second per connection, 0 for unlimited")
	f.Int("max-conns", d.MaxConns, "max concurrent connections, 0 for unlimited")
	f.Duration("report-interval", d.ReportInterval, "interval between summary lines")
	f.String("metrics", d.Metrics, "serve Prometheus metrics on this address")
	f.Bool("metrics-per-peer", d.MetricsPerPeer, "export one series per peer address")
	f.StringP("log-level", "v", d.LogLevel, "log level")
	f.BoolP("profile", "p", d.Profile, "enable profile")

	rootCmd.AddCommand(configCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)
	defer log.Sync()

	if cfg.Profile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}

	kind, err := filler.ParseKind(cfg.Filler)
	if err != nil {
		return err
	}
	source, err := filler.NewFactory(kind)
	if err != nil {
		return err
	}
	header, err := preamble.Load(cfg.Preamble)
	if err != nil {
		return err
	}

	book := ledger.New()
	s, err := server.NewServer(&server.ServerOption{
		Listen:    cfg.Listen,
		Preamble:  header,
		Filler:    source,
		ChunkSize: cfg.ChunkSize,
		Pace:      cfg.Pace,
		Rate:      cfg.Rate,
		MaxConns:  cfg.MaxConns,
	}, book)
	if err != nil {
		return err
	}
	log.Infow("starting", "filler", kind, "chunk_size", cfg.ChunkSize, "pace", cfg.Pace,
		"rate", cfg.Rate, "max_conns", cfg.MaxConns, "preamble_bytes", len(header))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.ListenAndServe(ctx)
	})
	g.Go(func() error {
		return report.New(book, cfg.ReportInterval).Run(ctx)
	})
	if cfg.Metrics != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(reg, book, s, cfg.MetricsPerPeer); err != nil {
			return err
		}
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.Metrics, metrics.Handler(reg))
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("Shutting down...")
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		log.Sync()
		os.Exit(1)
	}
}
