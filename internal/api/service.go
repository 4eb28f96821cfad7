// Package api serves the messaging core to local clients over gRPC. The
// service is described by hand and carried with a JSON codec.
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/outbox"
	"github.com/matheus3301/glide/internal/session"
)

// Service implements MessengerServer on top of a session.Context.
type Service struct {
	profile   string
	startedAt time.Time
	sessions  *session.Context
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the service for one profile.
func NewService(profile string, sessions *session.Context, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		sessions:  sessions,
		bus:       b,
		logger:    logger.Named("api"),
	}
}

var _ MessengerServer = (*Service)(nil)

func (s *Service) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		Profile:    s.profile,
		Connection: string(conn.Disconnected),
		UptimeMs:   time.Since(s.startedAt).Milliseconds(),
	}
	if m, err := s.sessions.Current(); err == nil {
		self := m.Self()
		resp.Identity = &self
		resp.Connection = string(m.ConnState())
		resp.ActiveID = m.Active()
		resp.ConversationCount = len(m.Conversations())
	}
	return resp, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var (
		m   *session.Messenger
		err error
	)
	if req.Identity != nil && !req.Identity.IsZero() {
		m, err = s.sessions.SetIdentity(*req.Identity, req.Token)
	} else {
		m, err = s.sessions.Login(ctx, req.Token)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &LoginResponse{Identity: m.Self()}, nil
}

func (s *Service) Logout(context.Context, *Empty) (*Empty, error) {
	s.sessions.Clear()
	return &Empty{}, nil
}

func (s *Service) Connect(context.Context, *Empty) (*ConnectionResponse, error) {
	m, err := s.sessions.Current()
	if err == nil {
		err = m.Connect()
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConnectionResponse{State: string(m.ConnState())}, nil
}

func (s *Service) RetryConnection(context.Context, *Empty) (*ConnectionResponse, error) {
	m, err := s.sessions.Current()
	if err == nil {
		err = m.Reconnect()
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConnectionResponse{State: string(m.ConnState())}, nil
}

func (s *Service) ListConversations(context.Context, *Empty) (*ListConversationsResponse, error) {
	m, err := s.sessions.Current()
	if err != nil {
		return nil, toStatus(err)
	}
	convs := m.Conversations()
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationFrom(c))
	}
	return &ListConversationsResponse{Conversations: out}, nil
}

func (s *Service) ListMessages(_ context.Context, req *ConversationRequest) (*ListMessagesResponse, error) {
	m, err := s.sessions.Current()
	if err != nil {
		return nil, toStatus(err)
	}
	msgs := m.Messages(req.ConversationID)
	resp := &ListMessagesResponse{Messages: make([]Message, 0, len(msgs))}
	for _, msg := range msgs {
		out := MessageFrom(msg)
		if msg.State == model.Failed {
			out.FailureReason = m.FailureReason(msg.ID)
		}
		resp.Messages = append(resp.Messages, out)
	}
	if perr := m.PaneError(req.ConversationID); perr != nil {
		resp.PaneError = perr.Error()
	}
	return resp, nil
}

func (s *Service) SelectConversation(_ context.Context, req *ConversationRequest) (*Empty, error) {
	m, err := s.sessions.Current()
	if err == nil {
		err = m.Select(req.ConversationID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) StartChat(_ context.Context, req *StartChatRequest) (*ConversationResponse, error) {
	m, err := s.sessions.Current()
	if err != nil {
		return nil, toStatus(err)
	}
	c, err := m.StartChat(req.Partner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConversationResponse{Conversation: ConversationFrom(c)}, nil
}

func (s *Service) SearchUsers(ctx context.Context, req *SearchUsersRequest) (*SearchUsersResponse, error) {
	m, err := s.sessions.Current()
	if err != nil {
		return nil, toStatus(err)
	}
	users, err := m.SearchUsers(ctx, req.Term)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SearchUsersResponse{Users: users}, nil
}

func (s *Service) Send(_ context.Context, req *SendRequest) (*MessageResponse, error) {
	m, err := s.sessions.Current()
	if err != nil {
		return nil, toStatus(err)
	}
	var msg model.Message
	if req.Sticker {
		msg, err = m.SendSticker(req.ConversationID, req.Content)
	} else {
		msg, err = m.Send(req.ConversationID, req.Content)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return s.messageResponse(m, msg), nil
}

func (s *Service) RetrySend(_ context.Context, req *MessageRequest) (*MessageResponse, error) {
	m, err := s.sessions.Current()
	if err != nil {
		return nil, toStatus(err)
	}
	msg, err := m.RetrySend(req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.messageResponse(m, msg), nil
}

func (s *Service) messageResponse(m *session.Messenger, msg model.Message) *MessageResponse {
	out := MessageFrom(msg)
	if msg.State == model.Failed {
		out.FailureReason = m.FailureReason(msg.ID)
	}
	return &MessageResponse{Message: out}
}

func (s *Service) DeleteMessage(ctx context.Context, req *MessageRequest) (*Empty, error) {
	m, err := s.sessions.Current()
	if err == nil {
		err = m.DeleteMessage(ctx, req.MessageID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) DeleteConversation(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	m, err := s.sessions.Current()
	if err == nil {
		err = m.DeleteConversation(ctx, req.ConversationID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) MarkRead(_ context.Context, req *ConversationRequest) (*Empty, error) {
	m, err := s.sessions.Current()
	if err == nil {
		err = m.MarkRead(req.ConversationID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Service) WatchEvents(req *WatchEventsRequest, stream EventStream) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(EventPayload(evt.Payload))
			if err != nil {
				s.logger.Warn("failed to encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(&Event{
				ID:         uuid.NewString(),
				Kind:       evt.Kind,
				OccurredAt: evt.Timestamp,
				Payload:    payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// HistoryError is the payload of session.history_failed events.
type HistoryError struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// History is the payload of message.history_loaded events.
type History struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// ConnectionChange is the payload of conn.state_changed events.
type ConnectionChange struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SendResult is the payload of message.send_ack and message.send_failed.
type SendResult struct {
	ClientID       string `json:"clientId"`
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason,omitempty"`
}

// EventPayload converts a bus payload into its client representation.
func EventPayload(p any) any {
	switch v := p.(type) {
	case model.Message:
		return MessageFrom(v)
	case model.Conversation:
		return ConversationFrom(v)
	case model.History:
		out := History{ConversationID: v.ConversationID, Messages: make([]Message, 0, len(v.Messages))}
		for _, m := range v.Messages {
			out.Messages = append(out.Messages, MessageFrom(m))
		}
		return out
	case conn.StateChange:
		return ConnectionChange{From: string(v.From), To: string(v.To), Attempt: v.Attempt, Reason: v.Reason}
	case outbox.SendAck:
		return SendResult{ClientID: v.ClientID, MessageID: v.MessageID, ConversationID: v.ConversationID}
	case outbox.SendFailure:
		return SendResult{ClientID: v.ClientID, ConversationID: v.ConversationID, Reason: v.Reason}
	case *session.HistoryFetchError:
		return HistoryError{ConversationID: v.ConversationID, Error: v.Err.Error()}
	}
	return p
}
