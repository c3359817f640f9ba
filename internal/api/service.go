package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wppchat.v1.ChatService"

const (
	methodEnsureChat       = "EnsureChat"
	methodEnsureChatSync   = "EnsureChatSync"
	methodGetUnreadChats   = "GetUnreadChats"
	methodGetSessionStatus = "GetSessionStatus"
	streamWatchUnread      = "WatchUnread"
)

// ChatServer is the server side of ChatService. Requests and responses are
// structpb.Struct documents; field names are listed in codec.go.
type ChatServer interface {
	EnsureChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnsureChatSync(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUnreadChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSessionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchUnread(*structpb.Struct, grpc.ServerStream) error
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodEnsureChat, ChatServer.EnsureChat),
		unary(methodEnsureChatSync, ChatServer.EnsureChatSync),
		unary(methodGetUnreadChats, ChatServer.GetUnreadChats),
		unary(methodGetSessionStatus, ChatServer.GetSessionStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamWatchUnread,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ChatServer).WatchUnread(in, stream)
			},
		},
	},
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type unaryCall func(ChatServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}
