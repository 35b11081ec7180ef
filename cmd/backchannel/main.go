package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/config"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/lifecycle"
	"github.com/ajna-inc/essi-backchannel/pkg/backchannel/server"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	port       = flag.Int("port", 0, "Backchannel port (overrides config)")
	agentPort  = flag.Int("agent-port", 0, "Agent inbound DIDComm port (overrides config)")
	agentHost  = flag.String("agent-host", "", "Agent inbound host (overrides config)")
	label      = flag.String("label", "", "Agent label (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	applyFlags(cfg)

	setupLogging(cfg.LogLevel)
	log := logrus.WithField("component", "main")

	runner := lifecycle.NewRunner(cfg)
	if err := runner.Restart(lifecycle.TransportConfig{}); err != nil {
		log.WithError(err).Fatal("failed to start agent")
	}

	backchannel := server.New(cfg, runner)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: backchannel.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("backchannel listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
		}
	}

	if err := runner.Stop(); err != nil {
		log.WithError(err).Warn("agent shutdown failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
}

func applyFlags(cfg *config.Config) {
	if *port > 0 {
		cfg.Port = *port
	}
	if *agentPort > 0 {
		cfg.Agent.InboundPort = *agentPort
	}
	if *agentHost != "" {
		cfg.Agent.InboundHost = *agentHost
	}
	if *label != "" {
		cfg.Agent.Label = *label
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
