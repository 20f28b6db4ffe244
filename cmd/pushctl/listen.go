package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/push"
	"github.com/Zereker/push/internal/config"
	"github.com/Zereker/push/metrics"
)

type listenFlags struct {
	addr        string
	transport   string
	uid         string
	heartbeat   time.Duration
	metricsAddr string
}

func newListenCommand(global *globalFlags) *cobra.Command {
	var flags listenFlags

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect, subscribe and print pushed messages until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			applyListenFlags(cmd, &flags, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runListen(cmd.Context(), cmd, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "push server address (host:port)")
	cmd.Flags().StringVar(&flags.transport, "transport", "", "transport: tcp or ws")
	cmd.Flags().StringVar(&flags.uid, "uid", "", "subscriber id (random if empty)")
	cmd.Flags().DurationVar(&flags.heartbeat, "heartbeat", 0, "initial heartbeat interval")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	return cmd
}

func applyListenFlags(cmd *cobra.Command, flags *listenFlags, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Server.Address = flags.addr
	}
	if cmd.Flags().Changed("transport") {
		cfg.Server.Transport = flags.transport
	}
	if cmd.Flags().Changed("uid") {
		cfg.Client.UID = flags.uid
	}
	if cmd.Flags().Changed("heartbeat") {
		cfg.Client.Heartbeat = flags.heartbeat
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Address = flags.metricsAddr
	}
}

func runListen(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger push.Logger) error {
	host, port, err := cfg.HostPort()
	if err != nil {
		return err
	}

	uid := cfg.Client.UID
	if uid == "" {
		uid = uuid.NewString()
	}
	heartbeat := cfg.Client.Heartbeat
	if heartbeat == 0 {
		heartbeat = config.DefaultConfig().Client.Heartbeat
	}

	registry := prometheus.NewRegistry()
	mcfg := metrics.DefaultConfig()
	mcfg.Registry = registry
	observer := metrics.New(mcfg)

	group, gctx := errgroup.WithContext(ctx)

	sess := newSession(gctx, host, port, uid, heartbeat, newBackoff(cfg.Reconnect), logger, cmd.OutOrStdout())
	opts := append(sess.options(),
		push.LoggerOption(logger),
		push.ObserverOption(observer),
		push.MaxBodyLengthOption(cfg.Client.MaxBodyLength),
		push.CloseTimeoutOption(cfg.Client.CloseTimeout),
	)

	client, err := push.NewClient(newDialer(cfg, logger), opts...)
	if err != nil {
		return err
	}
	sess.client = client

	group.Go(func() error {
		return client.Run(gctx)
	})

	if cfg.Metrics.Address != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           newMetricsRouter(registry, client),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	sess.start()

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newDialer(cfg *config.Config, logger push.Logger) push.Dialer {
	if cfg.Server.Transport == config.TransportWebSocket {
		return push.NewWebSocketDialer(push.WebSocketConfig{
			Path:             cfg.Server.WSPath,
			HandshakeTimeout: cfg.Server.Timeout,
			Logger:           logger,
		})
	}
	return push.NewTCPDialer(push.TCPConfig{
		DialTimeout: cfg.Server.Timeout,
		Logger:      logger,
	})
}

func newMetricsRouter(registry *prometheus.Registry, client *push.Client) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := client.State()
		if state != push.Connected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(state.String() + "\n"))
	})
	return r
}
