package grpcgw

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/matheus3301/partyline/internal/gateway"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client implements gateway.Backend against a remote gateway service.
type Client struct {
	conn  grpc.ClientConnInterface
	cc    *grpc.ClientConn
	token func() string
}

var _ gateway.Backend = (*Client)(nil)

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial creates a client for the gateway at addr. The connection is
// established lazily, so an unreachable gateway surfaces as
// gateway.ErrUnavailable on the first call rather than here.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", addr, err)
	}
	return &Client{conn: cc, cc: cc}, nil
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.withToken(ctx), fullMethod(method), in, out); err != nil {
		return fromStatus(err)
	}
	if resp == nil {
		return nil
	}
	return fromStruct(out, resp)
}

func (c *Client) record(ctx context.Context, method string, req recordRequest) (json.RawMessage, error) {
	var resp recordResponse
	if err := c.invoke(ctx, method, req, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (c *Client) Create(ctx context.Context, coll string, rec json.RawMessage) (json.RawMessage, error) {
	return c.record(ctx, methodCreate, recordRequest{Collection: coll, Record: rec})
}

func (c *Client) Get(ctx context.Context, coll, id string) (json.RawMessage, error) {
	return c.record(ctx, methodGet, recordRequest{Collection: coll, ID: id})
}

func (c *Client) Update(ctx context.Context, coll, id string, rec json.RawMessage) (json.RawMessage, error) {
	return c.record(ctx, methodUpdate, recordRequest{Collection: coll, ID: id, Record: rec})
}

func (c *Client) Delete(ctx context.Context, coll, id string) error {
	return c.invoke(ctx, methodDelete, recordRequest{Collection: coll, ID: id}, nil)
}

func (c *Client) List(ctx context.Context, coll string, f gateway.Filter) ([]json.RawMessage, error) {
	var resp listResponse
	if err := c.invoke(ctx, methodList, recordRequest{Collection: coll, Filter: &f}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) Upload(ctx context.Context, bucket, name string, data []byte) (string, error) {
	var resp uploadResponse
	if err := c.invoke(ctx, methodUpload, uploadRequest{Bucket: bucket, Name: name, Data: data}, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) SignUp(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	var sess gateway.Session
	if err := c.invoke(ctx, methodSignUp, creds, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) SignIn(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	var sess gateway.Session
	if err := c.invoke(ctx, methodSignIn, creds, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.invoke(ctx, methodSignOut, signOutRequest{AccessToken: accessToken}, nil)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.invoke(ctx, methodPing, struct{}{}, nil)
}

type streamSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *streamSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *streamSubscription) Done() <-chan struct{} { return s.done }

// Subscribe opens a change stream and waits for the server to acknowledge it,
// so registration errors are returned here. Changes are delivered to h from a
// single goroutine in arrival order.
func (c *Client) Subscribe(ctx context.Context, coll string, f gateway.Filter, h func(gateway.RawChange)) (gateway.Subscription, error) {
	in, err := toStruct(recordRequest{Collection: coll, Filter: &f})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(c.withToken(ctx))
	stream, err := c.conn.NewStream(ctx, &subscribeStream, fullMethod(methodSubscribe))
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(in); err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	recv := func() (gateway.RawChange, error) {
		var change gateway.RawChange
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			return change, fromStatus(err)
		}
		return change, fromStruct(msg, &change)
	}

	ack, err := recv()
	if err != nil {
		cancel()
		return nil, err
	}
	if ack.Type != subscribedAck {
		cancel()
		return nil, fmt.Errorf("subscribe %s: unexpected first message %q", coll, ack.Type)
	}

	sub := &streamSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			change, err := recv()
			if err != nil {
				return
			}
			h(change)
		}
	}()
	return sub, nil
}
