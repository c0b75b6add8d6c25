package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/matheus3301/partyline/internal/app"
	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/config"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/lock"
	"github.com/matheus3301/partyline/internal/offline"
	"github.com/matheus3301/partyline/internal/profile"
	"github.com/matheus3301/partyline/internal/state"
	"go.uber.org/fx"
)

const version = "0.1.0"

const usage = `partyctl: find parties, join them and share the night.

Mutations made while the gateway is unreachable are queued on this device and
replayed the next time partyctl or partyd reaches it.

Usage:
  partyctl [options] status
  partyctl [options] signup <email> [--username=<name>]
  partyctl [options] signin <email>
  partyctl [options] signout
  partyctl [options] party list [--host=<user_id>] [--limit=<n>]
  partyctl [options] party create <title> [--description=<text>] [--address=<address>] [--starts=<time>] [--ends=<time>] [--private]
  partyctl [options] party join <party>
  partyctl [options] party leave <party>
  partyctl [options] party invite <party>
  partyctl [options] photo list <party>
  partyctl [options] photo upload <party> <file> [--caption=<text>]
  partyctl [options] photo like <photo_id>
  partyctl [options] message list <party>
  partyctl [options] message send <party> <body>
  partyctl [options] friend list
  partyctl [options] friend add <user_id>
  partyctl [options] queue list
  partyctl [options] queue sync
  partyctl -h | --help
  partyctl --version

Options:
  -h --help          Show this screen.
  --version          Show version.
  --profile=<name>   Profile to use (overrides config default).
  --json             Output in JSON format.
  --verbose          Log at the configured level instead of warnings only.

<party> is a party id or an invite link (partyline://party/<id>).
Times are RFC 3339, e.g. 2026-10-17T22:00:00Z.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts docopt.Opts, out io.Writer) error {
	cmd, ok := lookup(opts)
	if !ok {
		return errors.New("unknown command")
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return err
	}
	profileFlag, _ := opts.String("--profile")
	name, err := profile.Resolve(profileFlag, cfg)
	if err != nil {
		return err
	}
	if verbose, _ := opts.Bool("--verbose"); !verbose {
		cfg.LogLevel = "warn"
	}
	jsonOut, _ := opts.Bool("--json")

	e := &env{profile: name, cfg: cfg, out: out, jsonOut: jsonOut}
	fxApp := fx.New(
		app.Module(app.Params{Profile: name, Binary: "partyctl", Config: cfg}),
		fx.Populate(&e.stores, &e.queue, &e.gateway, &e.bus),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("profile %q is in use by process %d; stop partyd or pick another --profile", name, held.PID)
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	runErr := cmd.run(ctx, e, opts)
	if err := fxApp.Stop(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// env is what every command works with: the opened profile and its output.
type env struct {
	profile string
	cfg     *config.Config
	stores  *state.Stores
	queue   *offline.Queue
	gateway *gateway.Gateway
	bus     *bus.Bus
	out     io.Writer
	jsonOut bool
}
