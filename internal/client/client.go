// Package client is the typed client of the daemon's local API.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/glide/internal/api"
	"github.com/matheus3301/glide/internal/model"
)

// Client wraps the gRPC connection to one daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	return invoke[api.StatusResponse](ctx, c, api.MethodStatus, &api.StatusRequest{})
}

// Login signs in with token. identity may be nil to let the daemon
// resolve it.
func (c *Client) Login(ctx context.Context, token string, identity *model.Identity) (model.Identity, error) {
	resp, err := invoke[api.LoginResponse](ctx, c, api.MethodLogin, &api.LoginRequest{Token: token, Identity: identity})
	if err != nil {
		return model.Identity{}, err
	}
	return resp.Identity, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := invoke[api.Empty](ctx, c, api.MethodLogout, &api.Empty{})
	return err
}

func (c *Client) Connect(ctx context.Context) (string, error) {
	resp, err := invoke[api.ConnectionResponse](ctx, c, api.MethodConnect, &api.Empty{})
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *Client) RetryConnection(ctx context.Context) (string, error) {
	resp, err := invoke[api.ConnectionResponse](ctx, c, api.MethodRetryConnection, &api.Empty{})
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	resp, err := invoke[api.ListConversationsResponse](ctx, c, api.MethodListConversations, &api.Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) (*api.ListMessagesResponse, error) {
	return invoke[api.ListMessagesResponse](ctx, c, api.MethodListMessages, &api.ConversationRequest{ConversationID: conversationID})
}

func (c *Client) SelectConversation(ctx context.Context, conversationID string) error {
	_, err := invoke[api.Empty](ctx, c, api.MethodSelectConversation, &api.ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) StartChat(ctx context.Context, partner model.Identity) (api.Conversation, error) {
	resp, err := invoke[api.ConversationResponse](ctx, c, api.MethodStartChat, &api.StartChatRequest{Partner: partner})
	if err != nil {
		return api.Conversation{}, err
	}
	return resp.Conversation, nil
}

func (c *Client) SearchUsers(ctx context.Context, term string) ([]model.Identity, error) {
	resp, err := invoke[api.SearchUsersResponse](ctx, c, api.MethodSearchUsers, &api.SearchUsersRequest{Term: term})
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) Send(ctx context.Context, conversationID, content string, sticker bool) (api.Message, error) {
	resp, err := invoke[api.MessageResponse](ctx, c, api.MethodSend, &api.SendRequest{
		ConversationID: conversationID,
		Content:        content,
		Sticker:        sticker,
	})
	if err != nil {
		return api.Message{}, err
	}
	return resp.Message, nil
}

func (c *Client) RetrySend(ctx context.Context, messageID string) (api.Message, error) {
	resp, err := invoke[api.MessageResponse](ctx, c, api.MethodRetrySend, &api.MessageRequest{MessageID: messageID})
	if err != nil {
		return api.Message{}, err
	}
	return resp.Message, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := invoke[api.Empty](ctx, c, api.MethodDeleteMessage, &api.MessageRequest{MessageID: messageID})
	return err
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := invoke[api.Empty](ctx, c, api.MethodDeleteConversation, &api.ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := invoke[api.Empty](ctx, c, api.MethodMarkRead, &api.ConversationRequest{ConversationID: conversationID})
	return err
}

// EventStream receives events until its context ends.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (*api.Event, error) {
	evt := new(api.Event)
	if err := s.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// WatchEvents streams bus events whose kind starts with namespace.
func (c *Client) WatchEvents(ctx context.Context, namespace string) (*EventStream, error) {
	desc := &api.ServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, api.FullMethod(api.MethodWatchEvents))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&api.WatchEventsRequest{Namespace: namespace}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
