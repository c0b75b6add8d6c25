package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/matheus3301/partyline/internal/bus"
	"github.com/matheus3301/partyline/internal/connectivity"
	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/invite"
	"github.com/matheus3301/partyline/internal/model"
	"github.com/matheus3301/partyline/internal/offline"
)

var errOffline = errors.New("gateway unreachable; this command needs a connection")

type command struct {
	words []string
	run   func(ctx context.Context, e *env, opts docopt.Opts) error
}

var commands = []command{
	{[]string{"status"}, cmdStatus},
	{[]string{"signup"}, cmdSignUp},
	{[]string{"signin"}, cmdSignIn},
	{[]string{"signout"}, cmdSignOut},
	{[]string{"party", "list"}, cmdPartyList},
	{[]string{"party", "create"}, cmdPartyCreate},
	{[]string{"party", "join"}, cmdPartyJoin},
	{[]string{"party", "leave"}, cmdPartyLeave},
	{[]string{"party", "invite"}, cmdPartyInvite},
	{[]string{"photo", "list"}, cmdPhotoList},
	{[]string{"photo", "upload"}, cmdPhotoUpload},
	{[]string{"photo", "like"}, cmdPhotoLike},
	{[]string{"message", "list"}, cmdMessageList},
	{[]string{"message", "send"}, cmdMessageSend},
	{[]string{"friend", "list"}, cmdFriendList},
	{[]string{"friend", "add"}, cmdFriendAdd},
	{[]string{"queue", "list"}, cmdQueueList},
	{[]string{"queue", "sync"}, cmdQueueSync},
}

func lookup(opts docopt.Opts) (command, bool) {
	for _, c := range commands {
		matched := true
		for _, w := range c.words {
			if ok, _ := opts.Bool(w); !ok {
				matched = false
				break
			}
		}
		if matched {
			return c, true
		}
	}
	return command{}, false
}

func arg(opts docopt.Opts, key string) string {
	s, _ := opts.String(key)
	return s
}

// goOnline probes the gateway and, when it answers, flips the queue online so
// anything queued earlier is replayed before the command runs.
func (e *env) goOnline(ctx context.Context) bool {
	if connectivity.ProbeOnce(ctx, e.gateway, e.cfg.Sync.ProbeTimeout) {
		e.queue.SetOnline(ctx, true)
	}
	return e.queue.Online()
}

func (e *env) requireUser() error {
	if !e.stores.Authenticated() {
		return errors.New("not signed in; run partyctl signin <email>")
	}
	return nil
}

// submit dispatches a mutation or queues it while offline.
func (e *env) submit(ctx context.Context, a offline.Action) (queued bool, err error) {
	if err := e.requireUser(); err != nil {
		return false, err
	}
	e.goOnline(ctx)
	queued, err = e.queue.Submit(ctx, a)
	if err != nil {
		return false, err
	}
	if queued {
		fmt.Fprintf(e.out, "Offline: %s queued (%d pending).\n", a.Type(), e.queue.Len())
	}
	return queued, nil
}

func cmdStatus(ctx context.Context, e *env, _ docopt.Opts) error {
	e.goOnline(ctx)
	status := struct {
		Profile   string `json:"profile"`
		Gateway   string `json:"gateway"`
		State     string `json:"state"`
		User      string `json:"user,omitempty"`
		Queued    int    `json:"queued"`
		LastError string `json:"last_error,omitempty"`
		Parties   int    `json:"parties"`
		Friends   int    `json:"friends"`
	}{
		Profile: e.profile,
		Gateway: e.cfg.GatewayAddr,
		State:   string(e.queue.State()),
		Queued:  e.queue.Len(),
		Parties: e.stores.Parties.Len(),
		Friends: e.stores.Friends.Len(),
	}
	if u, ok := e.stores.Auth.CurrentUser(); ok {
		status.User = u.Username
	}
	if err := e.queue.Err(); err != nil {
		status.LastError = err.Error()
	}
	if e.jsonOut {
		return outputJSON(e.out, status)
	}
	user := status.User
	if user == "" {
		user = "(signed out)"
	}
	fmt.Fprintf(e.out, "Profile:  %s\n", status.Profile)
	fmt.Fprintf(e.out, "Gateway:  %s (%s)\n", status.Gateway, status.State)
	fmt.Fprintf(e.out, "User:     %s\n", user)
	fmt.Fprintf(e.out, "Queued:   %d\n", status.Queued)
	if status.LastError != "" {
		fmt.Fprintf(e.out, "Last sync: %s\n", status.LastError)
	}
	fmt.Fprintf(e.out, "Cached:   %d parties, %d friends\n", status.Parties, status.Friends)
	return nil
}

func credentials(e *env, opts docopt.Opts) (gateway.Credentials, error) {
	password, err := promptPassword(e.out)
	if err != nil {
		return gateway.Credentials{}, err
	}
	return gateway.Credentials{
		Email:    arg(opts, "<email>"),
		Password: password,
		Username: arg(opts, "--username"),
	}, nil
}

func cmdSignUp(ctx context.Context, e *env, opts docopt.Opts) error {
	if !e.goOnline(ctx) {
		return errOffline
	}
	creds, err := credentials(e, opts)
	if err != nil {
		return err
	}
	user, err := e.stores.Auth.SignUp(ctx, creds)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Welcome, %s.\n", user.Username)
	return nil
}

func cmdSignIn(ctx context.Context, e *env, opts docopt.Opts) error {
	if !e.goOnline(ctx) {
		return errOffline
	}
	creds, err := credentials(e, opts)
	if err != nil {
		return err
	}
	user, err := e.stores.Auth.SignIn(ctx, creds)
	if err != nil {
		return err
	}
	// Replay whatever was queued before the previous session ended.
	if err := e.queue.Sync(ctx); err != nil {
		fmt.Fprintf(e.out, "Warning: %v\n", err)
	}
	fmt.Fprintf(e.out, "Signed in as %s.\n", user.Username)
	return nil
}

func cmdSignOut(ctx context.Context, e *env, _ docopt.Opts) error {
	e.goOnline(ctx)
	if err := e.stores.SignOut(ctx); err != nil {
		return err
	}
	if n := e.queue.Len(); n > 0 {
		fmt.Fprintf(e.out, "Discarded %d queued actions.\n", n)
	}
	if err := e.queue.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Signed out.")
	return nil
}

func cmdPartyList(ctx context.Context, e *env, opts docopt.Opts) error {
	if e.goOnline(ctx) {
		var f gateway.Filter
		if host := arg(opts, "--host"); host != "" {
			f = gateway.Where("host_id", host)
		}
		if s := arg(opts, "--limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid --limit %q", s)
			}
			f.Limit = n
		}
		if err := e.stores.Parties.FetchParties(ctx, f); err != nil {
			return err
		}
	}
	parties := e.stores.Parties.Parties()
	if e.jsonOut {
		return outputJSON(e.out, parties)
	}
	if len(parties) == 0 {
		fmt.Fprintln(e.out, "No parties found.")
		return nil
	}
	for _, p := range parties {
		when := "-"
		if !p.StartsAt.IsZero() {
			when = p.StartsAt.Local().Format("Mon Jan 2 15:04")
		}
		fmt.Fprintf(e.out, "%-36s %-30s %-18s %3d going\n", p.ID, p.Title, when, p.Attendees)
	}
	return nil
}

func parseTime(opts docopt.Opts, key string) (time.Time, error) {
	s := arg(opts, key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

func partyFromOpts(opts docopt.Opts) (model.Party, error) {
	starts, err := parseTime(opts, "--starts")
	if err != nil {
		return model.Party{}, err
	}
	ends, err := parseTime(opts, "--ends")
	if err != nil {
		return model.Party{}, err
	}
	if !starts.IsZero() && !ends.IsZero() && ends.Before(starts) {
		return model.Party{}, errors.New("--ends is before --starts")
	}
	private, _ := opts.Bool("--private")
	return model.Party{
		Title:       arg(opts, "<title>"),
		Description: arg(opts, "--description"),
		Address:     arg(opts, "--address"),
		StartsAt:    starts,
		EndsAt:      ends,
		IsPrivate:   private,
	}, nil
}

func cmdPartyCreate(ctx context.Context, e *env, opts docopt.Opts) error {
	p, err := partyFromOpts(opts)
	if err != nil {
		return err
	}
	queued, err := e.submit(ctx, offline.CreateParty{Party: p})
	if err != nil || queued {
		return err
	}
	if parties := e.stores.Parties.Parties(); len(parties) > 0 {
		created := parties[0]
		fmt.Fprintf(e.out, "Created %q (%s).\n", created.Title, created.ID)
		fmt.Fprintf(e.out, "Invite: %s\n", invite.Link(created.ID))
	}
	return nil
}

func cmdPartyJoin(ctx context.Context, e *env, opts docopt.Opts) error {
	id := invite.PartyID(arg(opts, "<party>"))
	queued, err := e.submit(ctx, offline.JoinParty{PartyID: id})
	if err != nil || queued {
		return err
	}
	if p, ok := e.stores.Parties.Get(id); ok {
		fmt.Fprintf(e.out, "Joined %q, %d going.\n", p.Title, p.Attendees)
	}
	return nil
}

func cmdPartyLeave(ctx context.Context, e *env, opts docopt.Opts) error {
	if err := e.requireUser(); err != nil {
		return err
	}
	if !e.goOnline(ctx) {
		return errOffline
	}
	id := invite.PartyID(arg(opts, "<party>"))
	if err := e.stores.Parties.LeaveParty(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Left the party.")
	return nil
}

func cmdPartyInvite(_ context.Context, e *env, opts docopt.Opts) error {
	link := invite.Link(invite.PartyID(arg(opts, "<party>")))
	if e.jsonOut {
		return outputJSON(e.out, map[string]string{"link": link})
	}
	qr, err := invite.RenderQR(link)
	if err != nil {
		return err
	}
	fmt.Fprint(e.out, qr)
	fmt.Fprintf(e.out, "\n  %s\n", link)
	return nil
}

func cmdPhotoList(ctx context.Context, e *env, opts docopt.Opts) error {
	id := invite.PartyID(arg(opts, "<party>"))
	if e.goOnline(ctx) {
		if err := e.stores.Photos.FetchPhotos(ctx, id); err != nil {
			return err
		}
	}
	var photos []model.Photo
	for _, p := range e.stores.Photos.Photos() {
		if p.PartyID == id {
			photos = append(photos, p)
		}
	}
	if e.jsonOut {
		return outputJSON(e.out, photos)
	}
	for _, p := range photos {
		fmt.Fprintf(e.out, "%-36s %3d likes  %s  %s\n", p.ID, p.Likes, p.URL, p.Caption)
	}
	return nil
}

func cmdPhotoUpload(ctx context.Context, e *env, opts docopt.Opts) error {
	// Replay may happen from another working directory.
	path, err := filepath.Abs(arg(opts, "<file>"))
	if err != nil {
		return err
	}
	a := offline.UploadPhoto{
		PartyID: invite.PartyID(arg(opts, "<party>")),
		Path:    path,
		Caption: arg(opts, "--caption"),
	}
	queued, err := e.submit(ctx, a)
	if err != nil || queued {
		return err
	}
	if photos := e.stores.Photos.Photos(); len(photos) > 0 {
		fmt.Fprintf(e.out, "Uploaded %s.\n", photos[0].URL)
	}
	return nil
}

func cmdPhotoLike(ctx context.Context, e *env, opts docopt.Opts) error {
	queued, err := e.submit(ctx, offline.LikePhoto{PhotoID: arg(opts, "<photo_id>")})
	if err != nil || queued {
		return err
	}
	fmt.Fprintln(e.out, "Liked.")
	return nil
}

func cmdMessageList(ctx context.Context, e *env, opts docopt.Opts) error {
	id := invite.PartyID(arg(opts, "<party>"))
	if e.goOnline(ctx) {
		if err := e.stores.Messages.FetchMessages(ctx, id); err != nil {
			return err
		}
	}
	var msgs []model.Message
	for _, m := range e.stores.Messages.Messages() {
		if m.PartyID == id {
			msgs = append(msgs, m)
		}
	}
	if e.jsonOut {
		return outputJSON(e.out, msgs)
	}
	// Newest first in the cache; a chat reads oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Fprintf(e.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.UserID, m.Body)
	}
	return nil
}

func cmdMessageSend(ctx context.Context, e *env, opts docopt.Opts) error {
	a := offline.SendMessage{
		PartyID: invite.PartyID(arg(opts, "<party>")),
		Body:    arg(opts, "<body>"),
	}
	queued, err := e.submit(ctx, a)
	if err != nil || queued {
		return err
	}
	fmt.Fprintln(e.out, "Sent.")
	return nil
}

func cmdFriendList(ctx context.Context, e *env, _ docopt.Opts) error {
	if err := e.requireUser(); err != nil {
		return err
	}
	if e.goOnline(ctx) {
		if err := e.stores.Friends.FetchFriends(ctx); err != nil {
			return err
		}
	}
	friends := e.stores.Friends.Friends()
	if e.jsonOut {
		return outputJSON(e.out, friends)
	}
	for _, f := range friends {
		fmt.Fprintf(e.out, "%-36s %-36s %s\n", f.ID, f.FriendID, f.Status)
	}
	return nil
}

func cmdFriendAdd(ctx context.Context, e *env, opts docopt.Opts) error {
	queued, err := e.submit(ctx, offline.AddFriend{FriendID: arg(opts, "<user_id>")})
	if err != nil || queued {
		return err
	}
	fmt.Fprintln(e.out, "Friend request sent.")
	return nil
}

func cmdQueueList(_ context.Context, e *env, _ docopt.Opts) error {
	items := e.queue.Items()
	if e.jsonOut {
		return outputJSON(e.out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(e.out, "Queue is empty.")
		return nil
	}
	for _, it := range items {
		queuedAt := time.UnixMilli(it.Timestamp).Local().Format(time.DateTime)
		line := fmt.Sprintf("%s  %-12s %s  attempts=%d", it.ID, it.Type(), queuedAt, it.Attempts)
		if it.LastError != "" {
			line += "  last_error=" + strconv.Quote(it.LastError)
		}
		fmt.Fprintln(e.out, line)
	}
	return nil
}

func cmdQueueSync(ctx context.Context, e *env, _ docopt.Opts) error {
	if err := e.requireUser(); err != nil {
		return err
	}
	events, unsubscribe := e.bus.Subscribe(bus.KindQueueSynced, 8)
	defer unsubscribe()
	if !e.goOnline(ctx) {
		return errOffline
	}
	// goOnline replayed already; a second pass retries what failed.
	if e.queue.Len() > 0 {
		_ = e.queue.Sync(ctx)
	}
	fmt.Fprintln(e.out, syncSummary(drainSyncResults(events), e.queue.Len()))
	return e.queue.Err()
}

// drainSyncResults sums the sync results already delivered on events.
func drainSyncResults(events <-chan bus.Event) offline.SyncResult {
	var total offline.SyncResult
	for {
		select {
		case evt := <-events:
			r, ok := evt.Payload.(offline.SyncResult)
			if !ok {
				continue
			}
			total.Attempted += r.Attempted
			total.Succeeded += r.Succeeded
			total.Failed += r.Failed
			total.Dropped += r.Dropped
		default:
			return total
		}
	}
}

func syncSummary(r offline.SyncResult, remaining int) string {
	return fmt.Sprintf("Replayed %d, dropped %d, %d still queued.", r.Succeeded, r.Dropped, remaining)
}
