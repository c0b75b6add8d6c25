// Package grpcgw carries gateway.Backend over gRPC. Messages are
// google.protobuf.Struct values holding the same JSON records the backend
// speaks, so the service needs no generated code.
package grpcgw

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "partyline.gateway.v1.Gateway"

const (
	methodCreate    = "Create"
	methodGet       = "Get"
	methodUpdate    = "Update"
	methodDelete    = "Delete"
	methodList      = "List"
	methodUpload    = "Upload"
	methodSignUp    = "SignUp"
	methodSignIn    = "SignIn"
	methodSignOut   = "SignOut"
	methodPing      = "Ping"
	methodSubscribe = "Subscribe"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// GatewayServer is the server API of the gateway service.
type GatewayServer interface {
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Upload(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignOut(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(GatewayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GatewayServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GatewayServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GatewayServer).Subscribe(in, stream)
}

var subscribeStream = grpc.StreamDesc{
	StreamName:    methodSubscribe,
	Handler:       subscribeHandler,
	ServerStreams: true,
}

// ServiceDesc describes the gateway service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(methodCreate, GatewayServer.Create),
		unaryHandler(methodGet, GatewayServer.Get),
		unaryHandler(methodUpdate, GatewayServer.Update),
		unaryHandler(methodDelete, GatewayServer.Delete),
		unaryHandler(methodList, GatewayServer.List),
		unaryHandler(methodUpload, GatewayServer.Upload),
		unaryHandler(methodSignUp, GatewayServer.SignUp),
		unaryHandler(methodSignIn, GatewayServer.SignIn),
		unaryHandler(methodSignOut, GatewayServer.SignOut),
		unaryHandler(methodPing, GatewayServer.Ping),
	},
	Streams:  []grpc.StreamDesc{subscribeStream},
	Metadata: "partyline/gateway/v1/gateway.proto",
}

// RegisterGatewayServer registers srv on s.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&ServiceDesc, srv)
}
