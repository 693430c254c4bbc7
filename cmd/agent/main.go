// Command agent runs a bookagent Client or Gateway process, depending on
// --role. A gateway terminates the P2P side of the booking pipeline,
// persists submissions durably, and forwards them to the Central API; a
// client dials a gateway and submits bookings on behalf of an end user.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bookagent.dev/broker"
	"bookagent.dev/config"
	"bookagent.dev/logging"
	"bookagent.dev/p2p"
	"bookagent.dev/statusapi"
	"bookagent.dev/transport"
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "bookagent P2P booking broker agent",
	Run:   run,
}

func main() {
	config.BindFlags(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		Format:     cfg.LogFormat,
		TimeFormat: time.RFC3339,
	})
	log := logging.NewContextLogger(logger, map[string]interface{}{"service": "bookagent", "role": cfg.Role})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Role {
	case "gateway":
		runGateway(ctx, cfg, log)
	case "client":
		runClient(ctx, cfg, log)
	}
}

func runGateway(parent context.Context, cfg config.AgentConfig, log *logging.ContextLogger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	storage, err := broker.OpenStorage(cfg.DBPath)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to open durable store")
	}
	defer storage.Close()

	lease := newLease(ctx, cfg, log)
	defer lease.Close()

	audit := newAuditPublisher(cfg, log)
	defer audit.Close()

	ops := statusapi.New(0)

	transportManager, err := newCentralAPITransport(ctx, cfg)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to configure central API transport")
	}
	defer transportManager.Close()

	handler := broker.NewSubmitHandler(storage, ops, log)

	forwarder := broker.NewForwarderWorker(storage, broker.ForwarderConfig{
		CentralAPIURL:    cfg.CentralAPIURL,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		InitialBackoffMs: cfg.InitialBackoffMs,
		RateLimitPerSec:  cfg.RateLimitPerSec,
	}, transportManager, lease, audit, ops, log)
	go forwarder.Run(ctx)

	notifier := broker.NewNotifierWorker(storage, audit, ops, log)
	go notifier.Run(ctx)

	server := statusapi.NewServer(cfg.StatusAPIAddr, cfg.JWTSecret, ops, log)
	server.Start()

	listener, err := newListener(cfg, log)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to start P2P listener")
	}
	go acceptSessions(ctx, listener, handler, log)

	log.WithField("p2p_listen_addr", cfg.P2PListenAddr).WithField("status_api_addr", cfg.StatusAPIAddr).
		Info("gateway agent started")

	waitForShutdown(log)
	cancel()
	_ = listener.Close()
	_ = server.Shutdown(context.Background())
}

func acceptSessions(ctx context.Context, listener p2p.Listener, handler *broker.SubmitHandler, log *logging.ContextLogger) {
	for {
		transport, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithField("error", err.Error()).Warn("failed to accept P2P connection")
			continue
		}

		session := p2p.NewGatewaySession(transport, handler, log)
		go func() {
			if err := session.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithField("error", err.Error()).Warn("P2P session ended")
			}
			_ = transport.Close()
		}()
	}
}

func runClient(ctx context.Context, cfg config.AgentConfig, log *logging.ContextLogger) {
	dialer, err := newDialer(cfg, log)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to configure P2P dialer")
	}

	transport, err := dialer.Dial(ctx)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to connect to gateway")
	}
	defer transport.Close()

	client := p2p.NewClient(transport, log)
	if err := client.SendHeartbeat(ctx, "client"); err != nil {
		log.WithField("error", err.Error()).Warn("failed to send initial heartbeat")
	}

	log.WithField("p2p_dial_addr", cfg.P2PDialAddr).Info("client agent connected, awaiting shutdown")
	waitForShutdown(log)
}

func newListener(cfg config.AgentConfig, log *logging.ContextLogger) (p2p.Listener, error) {
	switch cfg.P2PTransport {
	case "ziti":
		return p2p.NewZitiListener(cfg.ZitiIdentity, "bookagent", log)
	default:
		return p2p.NewWebSocketListener(cfg.P2PListenAddr, log), nil
	}
}

func newDialer(cfg config.AgentConfig, log *logging.ContextLogger) (p2p.Dialer, error) {
	switch cfg.P2PTransport {
	case "ziti":
		return &p2p.ZitiDialer{IdentityFile: cfg.ZitiIdentity, ServiceName: "bookagent", Log: log}, nil
	default:
		return &p2p.WebSocketDialer{URL: cfg.P2PDialAddr, Reconnect: p2p.DefaultReconnectConfig(), Log: log}, nil
	}
}

// newCentralAPITransport builds the outbound Central API HTTP transport.
// HTTP/HTTPS is always registered; a Ziti overlay transport is additionally
// registered when an identity file is configured, so a central_api_url of
// ziti://... is routed over the overlay instead of the open network.
func newCentralAPITransport(ctx context.Context, cfg config.AgentConfig) (*transport.Manager, error) {
	var zitiConfig *transport.Config
	if cfg.ZitiIdentity != "" {
		zitiConfig = &transport.Config{ZitiIdentityFile: cfg.ZitiIdentity}
	}
	return transport.DefaultManagerWithAllTransports(ctx, transport.DefaultConfig(), zitiConfig)
}

func newLease(ctx context.Context, cfg config.AgentConfig, log *logging.ContextLogger) broker.Lease {
	if cfg.RedisAddr == "" {
		return broker.NoopLease{}
	}
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%s-%d", cfg.Role, host, os.Getpid())
	lease, err := broker.NewRedisLease(ctx, cfg.RedisAddr, "", owner)
	if err != nil {
		log.WithField("error", err.Error()).Warn("redis lease unreachable, proceeding without cross-instance coordination")
		return broker.NoopLease{}
	}
	return lease
}

func newAuditPublisher(cfg config.AgentConfig, log *logging.ContextLogger) broker.AuditPublisher {
	if cfg.AMQPURL == "" {
		return broker.NoopAuditPublisher{}
	}
	publisher, err := broker.NewAMQPAuditPublisher(cfg.AMQPURL, cfg.AMQPQueue)
	if err != nil {
		log.WithField("error", err.Error()).Warn("audit broker unreachable, audit events will be dropped")
		return broker.NoopAuditPublisher{}
	}
	return publisher
}

func waitForShutdown(log *logging.ContextLogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")
	time.Sleep(100 * time.Millisecond)
}
