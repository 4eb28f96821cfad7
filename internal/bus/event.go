package bus

import "time"

// Event is a notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter on prefixes such as "conn." or "message.".
const (
	KindConnState         = "conn.state_changed"
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindMessageDeleted    = "message.deleted"
	KindHistoryLoaded     = "message.history_loaded"
	KindConversation      = "conversation.upserted"
	KindConversationGone  = "conversation.removed"
	KindSessionIdentity   = "session.identity_changed"
	KindSessionHistoryErr = "session.history_failed"
)
