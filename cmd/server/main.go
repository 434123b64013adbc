// Command recipientd serves recipient merge-and-fetch over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/recipient-keeper/internal/config"
	"github.com/and161185/recipient-keeper/internal/limiter"
	"github.com/and161185/recipient-keeper/internal/merge"
	"github.com/and161185/recipient-keeper/internal/migrate"
	"github.com/and161185/recipient-keeper/internal/repository/postgres"
	"github.com/and161185/recipient-keeper/internal/rpc/recipientsv1"
	grpcserver "github.com/and161185/recipient-keeper/internal/server/grpc"
	"github.com/and161185/recipient-keeper/internal/service"
	"github.com/and161185/recipient-keeper/internal/telemetry"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "recipientd:", err)
		os.Exit(1)
	}
}

// run loads configuration, runs migrations, and serves until SIGINT/SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags override the environment.
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.StringVar(&cfg.DatabaseURL, "dsn", cfg.DatabaseURL, "PostgreSQL DSN")
	flag.StringVar(&cfg.JWTKey, "jwt-key", cfg.JWTKey, "HS256 signing key (required)")
	flag.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate (PEM); empty serves plaintext")
	flag.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS private key (PEM)")
	flag.StringVar(&cfg.SelfACI, "self-aci", cfg.SelfACI, "ACI of the local account")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	dev := flag.Bool("dev", false, "development logging and server reflection")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, *dev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := postgres.NewRecipientRepo(db)
	engine := merge.NewEngine(repo,
		merge.WithLogger(logger.Named("merge")),
		merge.WithEventSink(postgres.NewPublisher(db)),
		merge.WithSelfACI(cfg.Self()),
	)
	recipients := service.NewRecipientService(engine, repo)

	creds := insecure.NewCredentials()
	if cfg.TLSCert != "" {
		if creds, err = credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey); err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
	} else {
		logger.Warn("serving without TLS")
	}

	var authOpts []grpcserver.AuthOption
	if cfg.AuthMaxFailures > 0 {
		authOpts = append(authOpts, grpcserver.WithLimiter(
			limiter.NewPG(db.Pool, cfg.AuthWindow, cfg.AuthMaxFailures, cfg.AuthBlockFor)))
	}
	auth := grpcserver.NewAuthenticator([]byte(cfg.JWTKey), authOpts...)
	s := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary(auth, logger),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LoggingStream(logger),
			grpcserver.AuthStream(auth, logger),
		),
	)
	grpcserver.New(recipients, postgres.ChangeFeed{DSN: cfg.DatabaseURL}, logger).Register(s)

	hs := health.NewServer()
	hs.SetServingStatus(recipientsv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if *dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.Config, dev bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	return zc.Build()
}
