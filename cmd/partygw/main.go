package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/matheus3301/partyline/internal/gateway/grpcgw"
	"github.com/matheus3301/partyline/internal/gateway/memory"
	"github.com/matheus3301/partyline/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type params struct {
	Addr     string
	Secret   string
	TokenTTL time.Duration
	BaseURL  string
	LogPath  string
	LogLevel string
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: partygw [flags]\n\nServes an in-memory partyline gateway over gRPC.\n\n")
		flag.PrintDefaults()
	}

	var p params
	flag.StringVar(&p.Addr, "addr", "127.0.0.1:7420", "listen address")
	flag.StringVar(&p.Secret, "secret", "", "token signing secret (a fixed development secret when empty)")
	flag.DurationVar(&p.TokenTTL, "token-ttl", 24*time.Hour, "access token lifetime")
	flag.StringVar(&p.BaseURL, "base-url", "", "public base URL of uploaded files")
	flag.StringVar(&p.LogPath, "log", "partygw.log", "log file")
	flag.StringVar(&p.LogLevel, "log-level", "info", "log level")
	flag.Parse()

	fx.New(
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBackend,
			provideServer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(registerLifecycle),
	).Run()
}

func provideLogger(p params) (*zap.Logger, error) {
	return logging.New(p.LogPath, "partygw", logging.ParseLevel(p.LogLevel))
}

func provideBackend(p params) *memory.Backend {
	var opts []memory.Option
	if p.Secret != "" {
		opts = append(opts, memory.WithSecret([]byte(p.Secret)))
	}
	if p.TokenTTL > 0 {
		opts = append(opts, memory.WithTokenTTL(p.TokenTTL))
	}
	if p.BaseURL != "" {
		opts = append(opts, memory.WithBaseURL(p.BaseURL))
	}
	return memory.New(opts...)
}

func provideServer(b *memory.Backend, logger *zap.Logger) *grpc.Server {
	srv := grpc.NewServer()
	grpcgw.RegisterGatewayServer(srv, grpcgw.NewServer(b, logger, grpcgw.WithVerifier(b)))
	return srv
}

func registerLifecycle(lc fx.Lifecycle, p params, srv *grpc.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			lis, err := net.Listen("tcp", p.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", p.Addr, err)
			}
			logger.Info("gateway serving", zap.String("addr", lis.Addr().String()))
			go func() {
				if err := srv.Serve(lis); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			logger.Info("gateway stopping")
			srv.GracefulStop()
			return nil
		},
	})
}
