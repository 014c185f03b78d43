package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/channels"
	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/dispatch"
	"github.com/Bagheerabaloo/jarvis/internal/function"
	"github.com/Bagheerabaloo/jarvis/internal/functions"
	"github.com/Bagheerabaloo/jarvis/internal/lifecycle"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
	"github.com/Bagheerabaloo/jarvis/internal/metrics"
	"github.com/Bagheerabaloo/jarvis/internal/outbound"
	"github.com/Bagheerabaloo/jarvis/internal/registry"
	"github.com/Bagheerabaloo/jarvis/internal/telegram"
)

var stopTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll Telegram and dispatch updates until /end or a signal",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "how long to wait for the loops on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Debug)
	defer func() { _ = log.Sync() }()

	if cfg.Telegram.Token == "" {
		return channels.ErrNoToken
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	st, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(log)
	if err := functions.Register(reg); err != nil {
		_ = st.Close()
		return err
	}
	specs, err := registry.LoadCommandSpecs(cfg.Store.CommandsFile)
	if err == nil {
		err = reg.Apply(specs)
	}
	if err != nil {
		_ = st.Close()
		return err
	}

	client := telegram.NewClient(cfg.Telegram.Token, telegram.WithBaseURL(cfg.Telegram.BaseURL))
	sender := outbound.NewSender(client, outboundConfig(cfg), outbound.WithLogger(log), outbound.WithMetrics(m))

	queue := bus.NewQueue(cfg.Dispatch.QueueSize)
	dir := conversation.NewDirectory()

	pollCfg := channels.DefaultPollerConfig()
	pollCfg.Timeout = cfg.Telegram.PollTimeout
	pollCfg.PollInterval = cfg.Telegram.PollInterval
	pollCfg.ErrorBackoff = cfg.Telegram.ErrorBackoff
	pollCfg.AllowFrom = channels.AllowList(cfg.Telegram.AllowFrom)
	poller := channels.NewTelegramPoller(client, queue, sender, pollCfg,
		channels.WithLogger(log), channels.WithMetrics(m))

	var mgr *lifecycle.Manager
	d := dispatch.New(queue, dir, reg, function.NewEngine(sender, log), sender,
		dispatch.Config{AppName: cfg.App.Name, IdleSleep: cfg.Dispatch.IdleSleep},
		dispatch.WithLogger(log),
		dispatch.WithMetrics(m),
		dispatch.WithUsers(st),
		dispatch.WithNewUserFlow(&dispatch.Admission{Users: st, Admins: cfg.App.Admins}),
		dispatch.WithCheckpoint(cfg.Dispatch.Checkpoint, func(ctx context.Context) error {
			return mgr.Checkpoint(ctx)
		}),
	)
	mgr = lifecycle.New(st, dir, poller, d,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(m),
		lifecycle.WithGCPolicy(gcPolicy(cfg)),
		lifecycle.WithPendingFlusher(sender),
	)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
	}

	if err := mgr.Start(context.Background()); err != nil {
		_ = st.Close()
		return err
	}
	log.Info("jarvis running", zap.String("app", cfg.App.Name), zap.Int("commands", reg.Len()))

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	waitErr := mgr.Wait(sigCtx)
	if errors.Is(waitErr, context.Canceled) {
		log.Info("signal received, shutting down")
		waitErr = nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := mgr.Stop(stopCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(stopCtx)
	}
	return errors.Join(waitErr, stopErr)
}
