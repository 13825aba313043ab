package ingest

import (
	"strings"
	"time"
)

// InboundEnvelope is the parsed representation of one webhook delivery.
// It is request-scoped and never persisted verbatim.
type InboundEnvelope struct {
	To       string
	From     string
	Subject  string
	TextBody string
	HTMLBody string

	// headers holds raw email headers with lowercased keys. Access
	// through Header; headers are auxiliary metadata and may be empty
	// when the provider sent an unparsable header blob.
	headers map[string]string
}

func (e *InboundEnvelope) Header(name string) string {
	return e.headers[strings.ToLower(name)]
}

func (e *InboundEnvelope) Headers() map[string]string {
	return e.headers
}

// TicketReference is the ticket id decoded from the recipient address.
type TicketReference struct {
	TicketID int64
}

// Ticket is a read-only view over the helpdesk's ticket, joined with
// its customer, optional assigned agent, creator, and owning store.
type Ticket struct {
	ID           int64
	Subject      string
	Customer     Customer
	AssignedUser *User
	CreatedBy    *User
	Store        Store
}

type Customer struct {
	ID    int64
	Email string
}

type User struct {
	ID    int64
	Email string
}

// Store is the tenant that owns the ticket.
type Store struct {
	ID                 int64
	Name               string
	DefaultSenderEmail string
}

// Message is the durable row produced by an accepted delivery.
// Customer-originated messages always carry a nil SenderID.
type Message struct {
	ID              int64
	TicketID        int64
	Content         string
	SenderID        *int64
	IsFromCustomer  bool
	EmailFrom       string
	EmailTo         string
	EmailSubject    string
	EmailMessageID  string
	EmailInReplyTo  string
	EmailReferences string
	CreatedAt       time.Time
}

// NotificationAttempt records the outcome of the best-effort agent
// notification. It is returned to the caller and logged, never stored.
type NotificationAttempt struct {
	Success       bool   `json:"success"`
	Recipient     string `json:"recipient,omitempty"`
	RecipientType string `json:"recipientType,omitempty"`
	MessageID     int64  `json:"messageId"`
	Reason        string `json:"reason,omitempty"`
}

// Result is what the pipeline hands back to the HTTP boundary after an
// accepted delivery.
type Result struct {
	TicketID     int64
	MessageID    int64
	Duplicate    bool
	Flags        []string
	Notification *NotificationAttempt
}
