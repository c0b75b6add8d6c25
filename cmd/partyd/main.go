package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/partyline/internal/app"
	"github.com/matheus3301/partyline/internal/config"
	"github.com/matheus3301/partyline/internal/profile"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	gatewayFlag := flag.String("gateway", "", "gateway address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *gatewayFlag != "" {
		cfg.GatewayAddr = *gatewayFlag
	}
	name, err := profile.Resolve(*profileFlag, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{Profile: name, Binary: "partyd", Config: cfg, Watch: true}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	).Run()
}
