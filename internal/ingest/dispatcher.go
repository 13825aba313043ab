package ingest

import (
	"context"

	"deskrelay/internal/logger"
	"deskrelay/pkg/circuitbreaker"
	pkgerrors "deskrelay/pkg/errors"
	"deskrelay/pkg/metrics"
)

// NotificationSender delivers one outbound notification through the
// relay provider.
type NotificationSender interface {
	Send(ctx context.Context, ticket *Ticket, msg *Message, recipient string) error
}

// recipientSource is one tier of the notification priority policy. The
// ordered list below replaces an if/else chain so the policy is
// testable and extensible on its own.
type recipientSource struct {
	kind    string
	extract func(t *Ticket) string
}

var recipientSources = []recipientSource{
	{
		kind: "assigned_user",
		extract: func(t *Ticket) string {
			if t.AssignedUser != nil {
				return t.AssignedUser.Email
			}
			return ""
		},
	},
	{
		kind:    "store_sender",
		extract: func(t *Ticket) string { return t.Store.DefaultSenderEmail },
	},
	{
		kind: "creator",
		extract: func(t *Ticket) string {
			if t.CreatedBy != nil {
				return t.CreatedBy.Email
			}
			return ""
		},
	},
}

// Dispatcher attempts a best-effort agent notification after a message
// has been durably stored. Failures are reported, logged, and counted,
// never escalated: the inbound message is already safe, and retry
// storms against the relay provider risk quota exhaustion.
type Dispatcher struct {
	sender  NotificationSender
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewDispatcher(sender NotificationSender, breaker *circuitbreaker.Wrapper, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		breaker: breaker,
		logger:  log,
	}
}

// candidate pairs a recipient address with the tier that produced it.
type candidate struct {
	kind      string
	recipient string
}

// recipientCandidates evaluates the priority policy: one entry per tier with a
// non-empty address, de-duplicated preserving priority order.
func recipientCandidates(t *Ticket) []candidate {
	seen := make(map[string]bool, len(recipientSources))
	out := make([]candidate, 0, len(recipientSources))

	for _, src := range recipientSources {
		addr := NormalizeAddress(src.extract(t))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, candidate{kind: src.kind, recipient: addr})
	}

	return out
}

func (d *Dispatcher) Dispatch(ctx context.Context, ticket *Ticket, msg *Message) NotificationAttempt {
	candidates := recipientCandidates(ticket)
	if len(candidates) == 0 {
		d.logger.WarnwCtx(ctx, "No notification recipient available",
			"ticket_id", ticket.ID,
			"message_id", msg.ID,
		)
		return NotificationAttempt{
			Success:   false,
			MessageID: msg.ID,
			Reason:    "no recipient available",
		}
	}

	target := candidates[0]
	err := d.deliver(ctx, ticket, msg, target.recipient)

	attempt := NotificationAttempt{
		Success:       err == nil,
		Recipient:     target.recipient,
		RecipientType: target.kind,
		MessageID:     msg.ID,
	}

	if err != nil {
		attempt.Reason = err.Error()
		metrics.NotificationAttemptsTotal.WithLabelValues("failed", target.kind).Inc()
		d.logger.WarnwCtx(ctx, "Notification delivery failed",
			"ticket_id", ticket.ID,
			"message_id", msg.ID,
			"recipient", MaskAddress(target.recipient),
			"recipient_type", target.kind,
			"error", err,
		)
		return attempt
	}

	metrics.NotificationAttemptsTotal.WithLabelValues("sent", target.kind).Inc()
	d.logger.InfowCtx(ctx, "Notification delivered",
		"ticket_id", ticket.ID,
		"message_id", msg.ID,
		"recipient", MaskAddress(target.recipient),
		"recipient_type", target.kind,
	)
	return attempt
}

// deliver runs the send through the circuit breaker and converts any
// panic from the sender into an error. Nothing that happens here may
// reach the ingestion path as a failure.
func (d *Dispatcher) deliver(ctx context.Context, ticket *Ticket, msg *Message, recipient string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
		}
	}()

	if d.breaker != nil {
		_, err = d.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			return nil, d.sender.Send(ctx, ticket, msg, recipient)
		})
		d.breaker.RecordRequest(err == nil)
		return err
	}

	return d.sender.Send(ctx, ticket, msg, recipient)
}
