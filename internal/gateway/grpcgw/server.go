package grpcgw

import (
	"context"
	"encoding/json"

	"github.com/matheus3301/partyline/internal/gateway"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server exposes a gateway.Backend as the gateway gRPC service.
type Server struct {
	backend  gateway.Backend
	logger   *zap.Logger
	verifier Verifier
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVerifier makes writes require a bearer token accepted by v. Records
// may then only be created, changed or deleted by the users who own them.
func WithVerifier(v Verifier) ServerOption {
	return func(s *Server) { s.verifier = v }
}

// NewServer creates a gateway service backed by b. Without WithVerifier
// every caller may write any record.
func NewServer(b gateway.Backend, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{backend: b, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func decodeRequest(in *structpb.Struct, v any) error {
	if err := fromStruct(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func recordReply(rec json.RawMessage, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(recordResponse{Record: rec})
}

func empty() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}

func (s *Server) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorizeCreate(ctx, req.Collection, req.Record); err != nil {
		return nil, err
	}
	return recordReply(s.backend.Create(ctx, req.Collection, req.Record))
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return recordReply(s.backend.Get(ctx, req.Collection, req.ID))
}

func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorizeChange(ctx, req.Collection, req.ID, req.Record); err != nil {
		return nil, err
	}
	return recordReply(s.backend.Update(ctx, req.Collection, req.ID, req.Record))
}

func (s *Server) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.authorizeChange(ctx, req.Collection, req.ID, nil); err != nil {
		return nil, err
	}
	if err := s.backend.Delete(ctx, req.Collection, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

func (s *Server) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	var f gateway.Filter
	if req.Filter != nil {
		f = *req.Filter
	}
	recs, err := s.backend.List(ctx, req.Collection, f)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(listResponse{Records: recs})
}

func (s *Server) Upload(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req uploadRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	url, err := s.backend.Upload(ctx, req.Bucket, req.Name, req.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(uploadResponse{URL: url})
}

func (s *Server) SignUp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gateway.Credentials
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.backend.SignUp(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("account created", zap.String("user_id", sess.User.ID))
	return toStruct(sess)
}

func (s *Server) SignIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req gateway.Credentials
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	sess, err := s.backend.SignIn(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(sess)
}

func (s *Server) SignOut(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req signOutRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := s.backend.SignOut(ctx, req.AccessToken); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

func (s *Server) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.backend.Ping(ctx); err != nil {
		return nil, toStatus(err)
	}
	return empty(), nil
}

// Subscribe registers a backend feed and streams its changes until the client
// goes away. The first message is an acknowledgement.
func (s *Server) Subscribe(in *structpb.Struct, stream grpc.ServerStream) error {
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return err
	}
	var f gateway.Filter
	if req.Filter != nil {
		f = *req.Filter
	}

	ctx := stream.Context()
	changes := make(chan gateway.RawChange, 64)
	sub, err := s.backend.Subscribe(ctx, req.Collection, f, func(c gateway.RawChange) {
		select {
		case changes <- c:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return toStatus(err)
	}
	defer func() { _ = sub.Close() }()

	s.logger.Debug("subscription opened", zap.String("collection", req.Collection))
	defer s.logger.Debug("subscription closed", zap.String("collection", req.Collection))

	ack, err := toStruct(gateway.RawChange{Type: subscribedAck})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(ack); err != nil {
		return err
	}

	for {
		select {
		case c := <-changes:
			msg, err := toStruct(c)
			if err != nil {
				s.logger.Warn("encode change failed", zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
