package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"snoip-server/pkg/call"
	"snoip-server/pkg/cdr"
	"snoip-server/pkg/config"
	"snoip-server/pkg/dispatch"
	"snoip-server/pkg/metrics"
	"snoip-server/pkg/session"
	"snoip-server/pkg/transport"
	"snoip-server/pkg/userdb"
	"snoip-server/pkg/version"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)
	logger.WithField("version", version.Version).Info("Starting snoip server")

	if cfg.MetricsAddr != "" {
		metrics.Init(logger)
		go func() {
			if err := metrics.Serve(logger, cfg.MetricsAddr); err != nil {
				logger.WithError(err).Error("Metrics endpoint failed")
			}
		}()
	}

	users, err := userdb.OpenSQLite(logger, cfg.UserDBPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open user database")
	}
	defer users.Close()

	var records cdr.Publisher = cdr.Nop{}
	if cfg.AMQPUrl != "" {
		publisher := cdr.NewAMQPPublisher(logger, cfg.AMQPUrl, cfg.CDRQueueName)
		if err := publisher.Connect(); err != nil {
			logger.WithError(err).Fatal("Failed to connect to AMQP broker")
		}
		records = publisher
	} else {
		logger.Info("No AMQP broker configured, call records disabled")
	}
	defer records.Close()

	table := session.NewTable(logger, cfg.MaxSessions, cfg.ClientExpire)
	pool := transport.NewPool(logger)
	pipeline := dispatch.NewPipeline(logger, table, pool)

	engine := call.NewEngine(logger, table, users, records, cfg.Codecs)
	if cfg.AlternateIP != nil {
		engine.SetAlternate(cfg.AlternateIP)
	}
	engine.Register(pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Start(ctx)
	defer pipeline.Stop()

	var listeners []interface{ Stop() }
	if cfg.TCPListenAddr != "" {
		tcp := transport.NewTCPListener(logger, cfg.TCPListenAddr, pool, pipeline.Receive)
		if err := tcp.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start TCP listener")
		}
		listeners = append(listeners, tcp)
	}
	if cfg.UDPListenAddr != "" {
		udp := transport.NewUDPListener(logger, cfg.UDPListenAddr, pool, pipeline.Receive)
		if err := udp.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start UDP listener")
		}
		listeners = append(listeners, udp)
	}

	logger.WithFields(logrus.Fields{
		"tcp":          cfg.TCPListenAddr,
		"udp":          cfg.UDPListenAddr,
		"max_sessions": cfg.MaxSessions,
		"expire":       cfg.ClientExpire,
	}).Info("Server ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutting down")

	for _, l := range listeners {
		l.Stop()
	}
}
