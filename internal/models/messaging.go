package models

// StatusType represents the delivery status of an outbound message.
type StatusType string

const (
	// StatusTypeSent indicates the message left this service.
	StatusTypeSent StatusType = "sent"
	// StatusTypeDelivered indicates the recipient's device acknowledged it.
	StatusTypeDelivered StatusType = "delivered"
	// StatusTypeRead indicates the recipient read it.
	StatusTypeRead StatusType = "read"
)

// Receipt is a delivery status event for an outbound message.
type Receipt struct {
	To     string     `json:"to"`
	Status StatusType `json:"status"`
	Time   int64      `json:"time"`
}

// InboundMessage is a message received from a WhatsApp user. From carries the
// sender's bare phone digits, which double as the WhatsApp session id.
type InboundMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
