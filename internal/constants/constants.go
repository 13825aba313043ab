package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixInbound = "inbound:msgid:"
)

const (
	DefaultEventsTopic = "ticket_message_events"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// DefaultTimestampWindow is the anti-replay window for webhook
	// signatures.
	DefaultTimestampWindow = 300 * time.Second

	// DefaultMaxPayloadBytes bounds the multipart webhook body.
	DefaultMaxPayloadBytes = 5 << 20

	// DefaultMinContentBytes is the threshold below which a stored
	// message is flagged as likely low-signal (autoresponder, bounce).
	DefaultMinContentBytes = 100

	// MaxTicketID bounds the ticket id embedded in reply addresses.
	MaxTicketID = 10_000_000
)

const (
	DefaultDedupTTLSeconds = 86400
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
	EnvironmentDevelopment = "development"
	EnvironmentTest        = "test"
)
