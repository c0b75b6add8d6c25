package grpcgw

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/gateway/memory"
	"github.com/matheus3301/partyline/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T) (*memory.Backend, *gateway.Gateway) {
	t.Helper()
	backend, client := newTestServer(t, false)
	return backend, gateway.New(client)
}

func newTestServer(t *testing.T, verify bool) (*memory.Backend, *Client) {
	t.Helper()

	backend := memory.New(memory.WithBcryptCost(bcrypt.MinCost))
	var opts []ServerOption
	if verify {
		opts = append(opts, WithVerifier(backend))
	}
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterGatewayServer(srv, NewServer(backend, zap.NewNop(), opts...))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return backend, client
}

func TestCRUDRoundTrip(t *testing.T) {
	_, gw := newTestClient(t)
	ctx := context.Background()

	p, err := gw.Parties().Create(ctx, model.Party{Title: "Rooftop", Latitude: 38.72})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	got, err := gw.Parties().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rooftop", got.Title)
	assert.InDelta(t, 38.72, got.Latitude, 1e-9)

	got.Title = "Basement"
	updated, err := gw.Parties().Update(ctx, p.ID, got)
	require.NoError(t, err)
	assert.Equal(t, "Basement", updated.Title)

	list, err := gw.Parties().List(ctx, gateway.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, gw.Parties().Delete(ctx, p.ID))
	_, err = gw.Parties().Get(ctx, p.ID)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestListFilter(t *testing.T) {
	_, gw := newTestClient(t)
	ctx := context.Background()

	for _, party := range []string{"p1", "p1", "p2"} {
		_, err := gw.Messages().Create(ctx, model.Message{PartyID: party, Body: "hi"})
		require.NoError(t, err)
	}

	msgs, err := gw.Messages().List(ctx, gateway.Where("party_id", "p1"))
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	f := gateway.Where("party_id", "p1")
	f.Limit = 1
	msgs, err = gw.Messages().List(ctx, f)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	msgs, err = gw.Messages().List(ctx, gateway.Where("party_id", "nope"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestErrorMapping(t *testing.T) {
	backend, gw := newTestClient(t)
	ctx := context.Background()

	_, err := gw.Attendance().Create(ctx, model.Attendance{PartyID: "p", UserID: "u"})
	require.NoError(t, err)
	_, err = gw.Attendance().Create(ctx, model.Attendance{PartyID: "p", UserID: "u"})
	assert.ErrorIs(t, err, gateway.ErrConflict)

	_, err = gw.SignIn(ctx, gateway.Credentials{Email: "ghost@example.com", Password: "x"})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	backend.SetAvailable(false)
	assert.ErrorIs(t, gw.Ping(ctx), gateway.ErrUnavailable)
	_, err = gw.Parties().Create(ctx, model.Party{Title: "x"})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, client.Ping(ctx), gateway.ErrUnavailable)
}

func TestAuthOverTheWire(t *testing.T) {
	backend, gw := newTestClient(t)
	ctx := context.Background()

	sess, err := gw.SignUp(ctx, gateway.Credentials{Email: "bo@example.com", Password: "pw", Username: "bo"})
	require.NoError(t, err)
	assert.Equal(t, "bo", sess.User.Username)
	assert.True(t, sess.Valid(time.Now()))

	sess, err = gw.SignIn(ctx, gateway.Credentials{Email: "bo@example.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, gw.SignOut(ctx, sess.AccessToken))
	_, err = backend.Verify(sess.AccessToken)
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
}

func TestUploadBytes(t *testing.T) {
	backend, gw := newTestClient(t)

	data := []byte{0xff, 0xd8, 0x00, 0x01}
	url, err := gw.Upload(context.Background(), gateway.BucketPhotos, "u/x.jpg", data)
	require.NoError(t, err)
	assert.Contains(t, url, "photos/u/x.jpg")

	stored, ok := backend.Blob(gateway.BucketPhotos, "u/x.jpg")
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestSubscribeStreamsChanges(t *testing.T) {
	_, gw := newTestClient(t)
	ctx := context.Background()

	got := make(chan gateway.Change[model.Photo], 10)
	sub, err := gw.Photos().Subscribe(ctx, gateway.Where("party_id", "p1"), func(c gateway.Change[model.Photo]) {
		got <- c
	})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	ph, err := gw.Photos().Create(ctx, model.Photo{PartyID: "p1", UserID: "u", URL: "x"})
	require.NoError(t, err)
	_, err = gw.Likes().Create(ctx, model.Like{PhotoID: ph.ID, UserID: "u"})
	require.NoError(t, err)

	for _, want := range []gateway.EventType{gateway.Insert, gateway.Update} {
		select {
		case c := <-got:
			assert.Equal(t, want, c.Type)
			assert.Equal(t, ph.ID, c.ID())
			if want == gateway.Update {
				require.NotNil(t, c.New)
				assert.Equal(t, 1, c.New.Likes)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestSubscribeUnavailable(t *testing.T) {
	backend, gw := newTestClient(t)
	backend.SetAvailable(false)

	_, err := gw.Parties().Subscribe(context.Background(), gateway.Filter{}, func(gateway.Change[model.Party]) {})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{gateway.ErrUnavailable, codes.Unavailable},
		{gateway.ErrNotFound, codes.NotFound},
		{gateway.ErrConflict, codes.AlreadyExists},
		{gateway.ErrUnauthorized, codes.Unauthenticated},
		{gateway.ErrForbidden, codes.PermissionDenied},
		{errors.New("boom"), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			st, ok := status.FromError(toStatus(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.code, st.Code())
			if tt.code != codes.Unknown {
				assert.ErrorIs(t, fromStatus(toStatus(tt.err)), tt.err)
			}
		})
	}
}

func TestWritesRequireOwnerToken(t *testing.T) {
	backend, client := newTestServer(t, true)
	gw := gateway.New(client)
	ctx := context.Background()

	var token string
	client.SetTokenSource(func() string { return token })

	_, err := gw.Parties().Create(ctx, model.Party{Title: "Anonymous"})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	alice, err := gw.SignUp(ctx, gateway.Credentials{Email: "alice@example.com", Password: "pw", Username: "alice"})
	require.NoError(t, err)
	bob, err := gw.SignUp(ctx, gateway.Credentials{Email: "bob@example.com", Password: "pw", Username: "bob"})
	require.NoError(t, err)

	token = alice.AccessToken
	party, err := gw.Parties().Create(ctx, model.Party{Title: "Rooftop", HostID: alice.User.ID})
	require.NoError(t, err)
	_, err = gw.Attendance().Create(ctx, model.Attendance{PartyID: party.ID, UserID: bob.User.ID})
	assert.ErrorIs(t, err, gateway.ErrForbidden, "alice cannot join on bob's behalf")
	_, err = gw.Upload(ctx, gateway.BucketPhotos, "a/x.jpg", []byte{1})
	require.NoError(t, err)

	token = bob.AccessToken
	party.Title = "Hijacked"
	_, err = gw.Parties().Update(ctx, party.ID, party)
	assert.ErrorIs(t, err, gateway.ErrForbidden)
	assert.ErrorIs(t, gw.Parties().Delete(ctx, party.ID), gateway.ErrForbidden)

	req, err := gw.Friends().Create(ctx, model.Friend{UserID: bob.User.ID, FriendID: alice.User.ID, Status: model.FriendPending})
	require.NoError(t, err)

	token = alice.AccessToken
	req.Status = model.FriendAccepted
	_, err = gw.Friends().Update(ctx, req.ID, req)
	require.NoError(t, err, "the addressee may accept")
	req.UserID = alice.User.ID
	_, err = gw.Friends().Update(ctx, req.ID, req)
	assert.ErrorIs(t, err, gateway.ErrForbidden, "owners cannot be rewritten")

	require.NoError(t, gw.SignOut(ctx, alice.AccessToken))
	_, err = gw.Parties().Create(ctx, model.Party{Title: "After sign out", HostID: alice.User.ID})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	got, err := gateway.New(backend).Parties().Get(ctx, party.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rooftop", got.Title)
}

func TestReadsStayOpenWithVerifier(t *testing.T) {
	backend, client := newTestServer(t, true)
	gw := gateway.New(client)
	ctx := context.Background()

	p, err := gateway.New(backend).Parties().Create(ctx, model.Party{Title: "Public", HostID: "u1"})
	require.NoError(t, err)

	got, err := gw.Parties().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Public", got.Title)
	require.NoError(t, gw.Ping(ctx))
}
