package grpcgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/matheus3301/partyline/internal/gateway"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationKey = "authorization"
	bearerPrefix     = "Bearer "
)

// Verifier resolves an access token to the id of the user it was issued to.
type Verifier interface {
	Verify(accessToken string) (string, error)
}

// ownerFields lists, per collection, the fields naming the users allowed to
// change a record. The first field must name the caller on create.
var ownerFields = map[string][]string{
	gateway.CollUsers:      {"id"},
	gateway.CollParties:    {"host_id"},
	gateway.CollAttendance: {"user_id"},
	gateway.CollPhotos:     {"user_id"},
	gateway.CollLikes:      {"user_id"},
	gateway.CollFriends:    {"user_id", "friend_id"},
	gateway.CollMessages:   {"user_id"},
	gateway.CollLocations:  {"user_id"},
}

// SetTokenSource makes every call carry the token returned by src as a
// bearer credential. An empty token sends none. Call it before the client is
// used.
func (c *Client) SetTokenSource(src func() string) {
	c.token = src
}

func (c *Client) withToken(ctx context.Context) context.Context {
	if c.token == nil {
		return ctx
	}
	tok := c.token()
	if tok == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, bearerPrefix+tok)
}

// caller returns the user behind the bearer token of ctx. Without a verifier
// every caller is accepted and the id is empty.
func (s *Server) caller(ctx context.Context) (string, error) {
	if s.verifier == nil {
		return "", nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var tok string
	for _, v := range md.Get(authorizationKey) {
		if strings.HasPrefix(v, bearerPrefix) {
			tok = strings.TrimPrefix(v, bearerPrefix)
			break
		}
	}
	if tok == "" {
		return "", status.Error(codes.Unauthenticated, "missing access token")
	}
	uid, err := s.verifier.Verify(tok)
	if err != nil {
		return "", toStatus(err)
	}
	return uid, nil
}

func recordFields(rec json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(rec, &fields); err != nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("decode record: %v", err))
	}
	return fields, nil
}

func fieldString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func denied(coll string) error {
	return status.Error(codes.PermissionDenied, coll+": record belongs to another user")
}

// authorizeCreate checks that a new record is authored by the caller.
func (s *Server) authorizeCreate(ctx context.Context, coll string, rec json.RawMessage) error {
	uid, err := s.caller(ctx)
	if err != nil || s.verifier == nil {
		return err
	}
	owners, ok := ownerFields[coll]
	if !ok {
		return nil
	}
	fields, err := recordFields(rec)
	if err != nil {
		return err
	}
	if fieldString(fields, owners[0]) != uid {
		return denied(coll)
	}
	return nil
}

// authorizeChange checks that the caller owns the stored record and that
// patch, when given, keeps its owners.
func (s *Server) authorizeChange(ctx context.Context, coll, id string, patch json.RawMessage) error {
	uid, err := s.caller(ctx)
	if err != nil || s.verifier == nil {
		return err
	}
	owners, ok := ownerFields[coll]
	if !ok {
		return nil
	}
	raw, err := s.backend.Get(ctx, coll, id)
	if err != nil {
		return toStatus(err)
	}
	stored, err := recordFields(raw)
	if err != nil {
		return err
	}
	owned := false
	for _, f := range owners {
		if fieldString(stored, f) == uid {
			owned = true
			break
		}
	}
	if !owned {
		return denied(coll)
	}
	if patch == nil {
		return nil
	}
	fields, err := recordFields(patch)
	if err != nil {
		return err
	}
	for _, f := range owners {
		if _, set := fields[f]; set && fieldString(fields, f) != fieldString(stored, f) {
			return denied(coll)
		}
	}
	return nil
}
