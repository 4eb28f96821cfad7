package model

import "strings"

// BroadcastConversationID is the id of the shared room every session
// receives broadcast messages in.
const BroadcastConversationID = "broadcast"

// BroadcastPartner is the pseudo-identity the broadcast room is listed under.
var BroadcastPartner = Identity{ID: BroadcastConversationID, Name: "Everyone"}

// ConversationID returns the canonical id of the conversation between a
// and b. The pair is sorted first, so the result does not depend on who
// sent the first message. Separators inside an id are escaped, so distinct
// pairs never share an id and no pair id equals BroadcastConversationID.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return idEscaper.Replace(a) + ":" + idEscaper.Replace(b)
}

var idEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// PartnerOf returns the other participant of a message from self's point
// of view.
func PartnerOf(self string, m Message) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}
