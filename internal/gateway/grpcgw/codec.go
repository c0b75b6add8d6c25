package grpcgw

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/partyline/internal/gateway"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type recordRequest struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	Filter     *gateway.Filter `json:"filter,omitempty"`
}

type recordResponse struct {
	Record json.RawMessage `json:"record,omitempty"`
}

type listResponse struct {
	Records []json.RawMessage `json:"records"`
}

type uploadRequest struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
	Data   []byte `json:"data"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

type signOutRequest struct {
	AccessToken string `json:"access_token"`
}

// subscribedAck is the first message of every Subscribe stream. It tells the
// client the feed is registered.
const subscribedAck = "SUBSCRIBED"

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

// toStatus maps backend errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, gateway.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, gateway.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, gateway.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, gateway.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}

// fromStatus maps gRPC status codes back onto gateway errors. A server that
// cannot be reached or does not answer in time is unavailable.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), gateway.ErrUnavailable)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), gateway.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", st.Message(), gateway.ErrConflict)
	case codes.Unauthenticated:
		return fmt.Errorf("%s: %w", st.Message(), gateway.ErrUnauthorized)
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w", st.Message(), gateway.ErrForbidden)
	}
	return errors.New(st.Message())
}
