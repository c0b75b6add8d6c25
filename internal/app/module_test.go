package app

import (
	"context"
	"errors"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/partyline/internal/config"
	"github.com/matheus3301/partyline/internal/connectivity"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/gateway/grpcgw"
	"github.com/matheus3301/partyline/internal/gateway/memory"
	"github.com/matheus3301/partyline/internal/lock"
	"github.com/matheus3301/partyline/internal/model"
	"github.com/matheus3301/partyline/internal/offline"
	"github.com/matheus3301/partyline/internal/profile"
	"github.com/matheus3301/partyline/internal/state"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
)

func testConfig(addr string) *config.Config {
	cfg := config.Default()
	cfg.GatewayAddr = addr
	cfg.LogLevel = "error"
	cfg.Sync.ProbeInterval = 20 * time.Millisecond
	cfg.Sync.ProbeTimeout = 200 * time.Millisecond
	return cfg
}

func startGateway(t *testing.T) (*memory.Backend, string) {
	t.Helper()
	backend := memory.New(memory.WithBcryptCost(bcrypt.MinCost))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	grpcgw.RegisterGatewayServer(srv, grpcgw.NewServer(backend, zap.NewNop(), grpcgw.WithVerifier(backend)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return backend, lis.Addr().String()
}

func TestModuleLocksProfileAndPersistsQueue(t *testing.T) {
	t.Setenv(profile.HomeEnv, t.TempDir())
	p := Params{Profile: "test", Binary: "partyctl", Config: testConfig("127.0.0.1:1")}

	var q *offline.Queue
	app := fxtest.New(t, Module(p), fx.Populate(&q))
	app.RequireStart()

	if pid, ok := lock.Holder(profile.Dir("test")); !ok || pid == 0 {
		t.Errorf("Holder() = %d, %v; want the running process", pid, ok)
	}
	_, err := lock.Acquire(profile.Dir("test"))
	var held *lock.HeldError
	if !errors.As(err, &held) {
		t.Errorf("second Acquire error = %v, want HeldError", err)
	}

	q.Add(context.Background(), offline.JoinParty{PartyID: "p1"})
	app.RequireStop()

	if _, ok := lock.Holder(profile.Dir("test")); ok {
		t.Error("lock still held after stop")
	}

	var reopened *offline.Queue
	app = fxtest.New(t, Module(p), fx.Populate(&reopened))
	app.RequireStart()
	defer app.RequireStop()

	items := reopened.Items()
	if len(items) != 1 {
		t.Fatalf("reloaded queue has %d items, want 1", len(items))
	}
	if a, ok := items[0].Action.(offline.JoinParty); !ok || a.PartyID != "p1" {
		t.Errorf("reloaded action = %#v", items[0].Action)
	}
}

func TestModuleWatchReplaysAndFollows(t *testing.T) {
	t.Setenv(profile.HomeEnv, t.TempDir())
	backend, addr := startGateway(t)
	remote := gateway.New(backend)
	p := Params{Profile: "agent", Binary: "partyd", Config: testConfig(addr), Watch: true}

	var (
		stores  *state.Stores
		q       *offline.Queue
		machine *connectivity.Machine
		watcher *Watcher
	)
	app := fxtest.New(t, Module(p), fx.Populate(&stores, &q, &machine, &watcher))
	app.RequireStart()
	defer app.RequireStop()

	waitFor(t, "online", machine.Online)

	ctx := context.Background()
	if _, err := stores.Auth.SignUp(ctx, gateway.Credentials{Email: "agent@example.com", Password: "secret"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "party feed", func() bool { return slices.Contains(watcher.Following(), partiesFeed) })

	queued, err := q.Submit(ctx, offline.CreateParty{Party: model.Party{Title: "Rooftop"}})
	if err != nil || queued {
		t.Fatalf("Submit() = %v, %v; want dispatched", queued, err)
	}
	parties := stores.Parties.Parties()
	if len(parties) != 1 || parties[0].Title != "Rooftop" {
		t.Fatalf("cached parties = %+v", parties)
	}
	id := parties[0].ID
	waitFor(t, "chat feed", func() bool { return slices.Contains(watcher.Following(), chatFeed(id)) })

	msg, err := remote.Messages().Create(ctx, model.Message{PartyID: id, UserID: "someone", Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "message over the stream", func() bool {
		_, ok := stores.Messages.Get(msg.ID)
		return ok
	})

	// Losing the gateway queues the next action; regaining it replays it.
	backend.SetAvailable(false)
	waitFor(t, "offline", func() bool { return !machine.Online() })
	queued, err = q.Submit(ctx, offline.JoinParty{PartyID: id})
	if err != nil || !queued {
		t.Fatalf("Submit() offline = %v, %v; want queued", queued, err)
	}

	backend.SetAvailable(true)
	waitFor(t, "replay", func() bool { return q.Len() == 0 && machine.Current() == connectivity.Idle })
	waitFor(t, "attendee count", func() bool {
		got, ok := stores.Parties.Get(id)
		return ok && got.Attendees == 1
	})
}
