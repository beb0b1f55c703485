// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The xmppd command runs one node of a clustered XMPP routing core.
//
// Nodes connect through NATS when -transport=nats is given; otherwise the
// node runs alone.
// Prometheus metrics are served on -metrics-addr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/sync/errgroup"

	natsadapter "mellium.im/xmppd/adapters/nats"
	promadapter "mellium.im/xmppd/adapters/prometheus"
	"mellium.im/xmppd/cluster"
	"mellium.im/xmppd/jid"
	"mellium.im/xmppd/server"
)

func main() {
	var cfg Config
	fs := flag.NewFlagSet("xmppd", flag.ExitOnError)
	cfg.Flags(fs)
	_ = fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "xmppd: %v\n", err)
		os.Exit(2)
	}

	zlog, err := newZap(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xmppd: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zlog.Sync() }()
	log := slog.New(zapslog.NewHandler(zlog.Core(), zapslog.WithName("xmppd")))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("xmppd failed", slog.Any("error", err))
		cancel()
		_ = zlog.Sync()
		os.Exit(1)
	}
}

func newZap(cfg Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.level)
	return zcfg.Build()
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	node := cluster.NodeID(cfg.NodeID)
	log = log.With(slog.String("node", node.String()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []server.Option{
		server.Domains(cfg.Domains...),
		server.Logger(log),
		server.WithMetrics(promadapter.NewServerMetrics(reg)),
		server.DispatchTimeout(cfg.DispatchTimeout),
		server.SessionQueue(cfg.QueueSize, cfg.StallTimeout),
		server.OfflineLimits(cfg.OfflineUsers, cfg.OfflinePerUser),
	}
	for domain, secret := range cfg.Components {
		opts = append(opts, server.Component(jid.MustParse(domain), secret))
	}

	var membership *natsadapter.Membership
	if cfg.Transport == TransportNATS {
		connect := natsadapter.ReuseConnection(natsadapter.ConnectDefault())
		if cfg.NATSURL != "" {
			connect = natsadapter.ReuseConnection(natsadapter.ConnectURL(cfg.NATSURL))
		}
		tp, err := natsadapter.NewTransport(natsadapter.TransportConfig{
			Connect:       connect,
			Log:           log,
			SubjectPrefix: cfg.Subject,
		})
		if err != nil {
			return err
		}
		membership, err = natsadapter.NewMembership(node, natsadapter.MembershipConfig{
			Connect:       connect,
			Log:           log,
			SubjectPrefix: cfg.Subject,
			Interval:      cfg.HeartbeatInterval,
		})
		if err != nil {
			_ = tp.Close()
			return err
		}
		opts = append(opts, server.Transport(tp), server.Membership(membership))
	}

	srv, err := server.New(node, opts...)
	if err != nil {
		if membership != nil {
			_ = membership.Close()
		}
		return err
	}
	// Subscribe the node inbox before announcing it to other nodes.
	if err := srv.Start(ctx); err != nil {
		_ = srv.Close()
		return err
	}
	if membership != nil {
		if err := membership.Start(ctx); err != nil {
			_ = srv.Close()
			return err
		}
	}
	log.Info("node started",
		slog.Any("domains", cfg.Domains),
		slog.String("transport", cfg.Transport))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		var err error
		if membership != nil {
			err = membership.Close()
		}
		return multierr.Append(err, srv.Close())
	})
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics server starting", slog.String("addr", cfg.MetricsAddr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
