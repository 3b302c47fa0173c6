package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opd-ai/toxecho"
	"github.com/opd-ai/toxecho/av"
	"github.com/opd-ai/toxecho/config"
	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/savedata"
	"github.com/opd-ai/toxecho/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 5 * time.Second

type runFlags struct {
	metricsAddr string
	duration    time.Duration
	demo        bool
	capture     bool
	acceptFiles bool
	filesPath   string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "runs the echo bot",
		Long: `runs the echo bot on the in-process simulated network until interrupted.
With --demo a scripted friend connects, chats, sends a file and calls the bot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd, global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("accept-files") {
				opts.AcceptFiles = flags.acceptFiles
			}
			if flags.filesPath != "" {
				opts.FilesPath = flags.filesPath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if flags.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flags.duration)
				defer cancel()
			}

			return runBot(ctx, opts, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.DurationVar(&flags.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.BoolVar(&flags.demo, "demo", false, "script a friend exercising every echo path")
	f.BoolVar(&flags.capture, "capture", false, "send a test tone and pattern to every call")
	f.BoolVar(&flags.acceptFiles, "accept-files", false, "accept incoming data files")
	f.StringVar(&flags.filesPath, "files-path", "", "directory received files are stored in")
	return cmd
}

func runBot(ctx context.Context, opts *config.Options, flags *runFlags) error {
	store := savedata.NewStore(opts.SaveFile, opts.SaveTmpFile, opts.Passphrase, nil)
	blob, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load save data: %w", err)
	}

	sim, err := transport.NewSimulated(blob)
	if err != nil {
		return err
	}

	if flags.demo {
		if err := prepareDemo(opts); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	options := []toxecho.Option{toxecho.WithMetrics(metrics.New(reg))}
	if flags.capture {
		options = append(options, toxecho.WithMediaSources(av.NewToneSource(), av.NewPatternSource()))
	}

	bot, err := toxecho.New(opts, sim, options...)
	if err != nil {
		return err
	}

	if flags.demo {
		scriptDemo(sim)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})

	if flags.metricsAddr != "" {
		srv := &http.Server{
			Addr:              flags.metricsAddr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logrus.WithFields(logrus.Fields{
				"function": "runBot",
				"addr":     flags.metricsAddr,
			}).Info("Serving metrics")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// prepareDemo makes sure the demo file has somewhere to land.
func prepareDemo(opts *config.Options) error {
	opts.AcceptFiles = true
	if opts.FilesPath == "" {
		opts.FilesPath = filepath.Join(filepath.Dir(opts.SaveFile), "received")
	}
	if err := os.MkdirAll(opts.FilesPath, 0o755); err != nil {
		return fmt.Errorf("failed to create files directory: %w", err)
	}
	return nil
}
