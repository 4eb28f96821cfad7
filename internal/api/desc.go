package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "glide.v1.Messenger"

// Method names.
const (
	MethodStatus             = "Status"
	MethodLogin              = "Login"
	MethodLogout             = "Logout"
	MethodConnect            = "Connect"
	MethodRetryConnection    = "RetryConnection"
	MethodListConversations  = "ListConversations"
	MethodListMessages       = "ListMessages"
	MethodSelectConversation = "SelectConversation"
	MethodStartChat          = "StartChat"
	MethodSearchUsers        = "SearchUsers"
	MethodSend               = "Send"
	MethodRetrySend          = "RetrySend"
	MethodDeleteMessage      = "DeleteMessage"
	MethodDeleteConversation = "DeleteConversation"
	MethodMarkRead           = "MarkRead"
	MethodWatchEvents        = "WatchEvents"
)

// FullMethod returns "/glide.v1.Messenger/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// MessengerServer is the server side of the service.
type MessengerServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *Empty) (*Empty, error)
	Connect(context.Context, *Empty) (*ConnectionResponse, error)
	RetryConnection(context.Context, *Empty) (*ConnectionResponse, error)
	ListConversations(context.Context, *Empty) (*ListConversationsResponse, error)
	ListMessages(context.Context, *ConversationRequest) (*ListMessagesResponse, error)
	SelectConversation(context.Context, *ConversationRequest) (*Empty, error)
	StartChat(context.Context, *StartChatRequest) (*ConversationResponse, error)
	SearchUsers(context.Context, *SearchUsersRequest) (*SearchUsersResponse, error)
	Send(context.Context, *SendRequest) (*MessageResponse, error)
	RetrySend(context.Context, *MessageRequest) (*MessageResponse, error)
	DeleteMessage(context.Context, *MessageRequest) (*Empty, error)
	DeleteConversation(context.Context, *ConversationRequest) (*Empty, error)
	MarkRead(context.Context, *ConversationRequest) (*Empty, error)
	WatchEvents(*WatchEventsRequest, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

// RegisterMessengerServer registers srv on s.
func RegisterMessengerServer(s grpc.ServiceRegistrar, srv MessengerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessengerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, MessengerServer.Status),
		unary(MethodLogin, MessengerServer.Login),
		unary(MethodLogout, MessengerServer.Logout),
		unary(MethodConnect, MessengerServer.Connect),
		unary(MethodRetryConnection, MessengerServer.RetryConnection),
		unary(MethodListConversations, MessengerServer.ListConversations),
		unary(MethodListMessages, MessengerServer.ListMessages),
		unary(MethodSelectConversation, MessengerServer.SelectConversation),
		unary(MethodStartChat, MessengerServer.StartChat),
		unary(MethodSearchUsers, MessengerServer.SearchUsers),
		unary(MethodSend, MessengerServer.Send),
		unary(MethodRetrySend, MessengerServer.RetrySend),
		unary(MethodDeleteMessage, MessengerServer.DeleteMessage),
		unary(MethodDeleteConversation, MessengerServer.DeleteConversation),
		unary(MethodMarkRead, MessengerServer.MarkRead),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "glide/v1/messenger",
}

// unary builds the method descriptor of a request/response call.
func unary[Req, Resp any](name string, call func(MessengerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MessengerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MessengerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MessengerServer).WatchEvents(in, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(e *Event) error {
	return s.ServerStream.SendMsg(e)
}
