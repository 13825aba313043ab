package ingest

import (
	"context"
	"net/http"
	"time"

	"deskrelay/internal/logger"
	"deskrelay/pkg/errors"
	"deskrelay/pkg/logging"
	"deskrelay/pkg/metrics"
)

// Service runs the inbound pipeline for one webhook delivery:
// verify, extract, resolve, authenticate, store, notify. Everything
// after the message row is committed is best-effort.
type Service struct {
	verifier   *Verifier
	extractor  *Extractor
	classifier *Classifier
	tickets    TicketRepository
	messages   MessageRepository
	dedup      DedupStore
	dispatcher *Dispatcher
	events     EventPublisher

	minContentBytes int
	logger          logger.Logger
}

type ServiceDeps struct {
	Verifier   *Verifier
	Extractor  *Extractor
	Classifier *Classifier
	Tickets    TicketRepository
	Messages   MessageRepository
	Dedup      DedupStore
	Dispatcher *Dispatcher
	Events     EventPublisher

	MinContentBytes int
	Logger          logger.Logger
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		verifier:        deps.Verifier,
		extractor:       deps.Extractor,
		classifier:      deps.Classifier,
		tickets:         deps.Tickets,
		messages:        deps.Messages,
		dedup:           deps.Dedup,
		dispatcher:      deps.Dispatcher,
		events:          deps.Events,
		minContentBytes: deps.MinContentBytes,
		logger:          deps.Logger,
	}
}

// Process handles one delivery end to end. The returned error is always
// a coded pipeline error; the HTTP boundary maps it to a status.
func (s *Service) Process(ctx context.Context, signature, timestamp string, r *http.Request) (*Result, error) {
	start := time.Now()

	if err := s.verifier.Verify(signature, timestamp, time.Now()); err != nil {
		return nil, s.reject(ctx, "verify", err, start)
	}

	envelope, err := s.extractor.Extract(r)
	if err != nil {
		return nil, s.reject(ctx, "extract", err, start)
	}

	ref, err := ResolveTicketAddress(envelope.To)
	if err != nil {
		return nil, s.reject(ctx, "resolve", err, start)
	}
	ctx = logging.WithTicketID(ctx, ref.TicketID)

	ticket, err := s.tickets.GetTicket(ctx, ref.TicketID)
	if err != nil {
		return nil, s.reject(ctx, "lookup", err, start)
	}

	if err := AuthenticateSender(envelope.From, ticket.Customer.Email); err != nil {
		s.logger.WarnwCtx(ctx, "Sender does not match ticket customer",
			"ticket_id", ticket.ID,
			"from", MaskAddress(envelope.From),
			"customer", MaskAddress(ticket.Customer.Email),
		)
		return nil, s.reject(ctx, "authenticate", err, start)
	}

	content := selectContent(envelope)
	if len(content) < s.minContentBytes {
		metrics.ShortContentMessagesTotal.Inc()
		s.logger.WarnwCtx(ctx, "Message content below minimum threshold, storing anyway",
			"ticket_id", ticket.ID,
			"content_bytes", len(content),
		)
	}

	flags := s.classifier.Classify(ctx, envelope, len(content))
	if len(flags) > 0 {
		s.logger.InfowCtx(ctx, "Message flagged as low-signal",
			"ticket_id", ticket.ID,
			"flags", flags,
		)
	}

	msg := &Message{
		TicketID:        ticket.ID,
		Content:         content,
		SenderID:        nil,
		IsFromCustomer:  true,
		EmailFrom:       NormalizeAddress(envelope.From),
		EmailTo:         NormalizeAddress(envelope.To),
		EmailSubject:    envelope.Subject,
		EmailMessageID:  envelope.Header("message-id"),
		EmailInReplyTo:  envelope.Header("in-reply-to"),
		EmailReferences: envelope.Header("references"),
		CreatedAt:       time.Now(),
	}

	// Redis answers first; the database unique index remains the source
	// of truth, so a cache miss or outage only costs one extra insert
	// round trip.
	if s.dedup != nil && msg.EmailMessageID != "" {
		seen, dedupErr := s.dedup.Seen(ctx, ticket.ID, msg.EmailMessageID)
		if dedupErr != nil {
			s.logger.WarnwCtx(ctx, "Dedup fast path unavailable, falling back to database constraint",
				"ticket_id", ticket.ID,
				"error", dedupErr,
			)
		} else if seen {
			existing, lookupErr := s.messages.FindMessage(ctx, ticket.ID, msg.EmailMessageID)
			if lookupErr == nil {
				s.logger.InfowCtx(ctx, "Duplicate delivery short-circuited by dedup cache",
					"ticket_id", ticket.ID,
					"message_id", existing,
				)
				metrics.InboundDeliveriesTotal.WithLabelValues("duplicate").Inc()
				metrics.ObserveInboundDuration(time.Since(start), "duplicate")
				return &Result{
					TicketID:  ticket.ID,
					MessageID: existing,
					Duplicate: true,
					Flags:     flags,
				}, nil
			}
			// The cache claims the pair but no row backs it; the insert
			// below settles it.
			s.logger.WarnwCtx(ctx, "Dedup cache hit without a stored row, falling back to insert",
				"ticket_id", ticket.ID,
				"error", lookupErr,
			)
		}
	}

	id, inserted, err := s.messages.InsertMessage(ctx, msg)
	if err != nil {
		return nil, s.reject(ctx, "store", errors.Wrap(err, errors.ErrInternal), start)
	}
	msg.ID = id

	// The pair is cached only once a row durably exists; marking before
	// the insert could drop a retried delivery after a failed insert.
	if s.dedup != nil && msg.EmailMessageID != "" {
		if markErr := s.dedup.MarkSeen(ctx, ticket.ID, msg.EmailMessageID); markErr != nil {
			s.logger.WarnwCtx(ctx, "Failed to mark delivery in dedup cache",
				"ticket_id", ticket.ID,
				"error", markErr,
			)
		}
	}

	if !inserted {
		s.logger.InfowCtx(ctx, "Delivery already processed, returning existing message",
			"ticket_id", ticket.ID,
			"message_id", id,
		)
		metrics.InboundDeliveriesTotal.WithLabelValues("duplicate").Inc()
		metrics.ObserveInboundDuration(time.Since(start), "duplicate")
		return &Result{
			TicketID:  ticket.ID,
			MessageID: id,
			Duplicate: true,
			Flags:     flags,
		}, nil
	}

	attempt := s.dispatcher.Dispatch(ctx, ticket, msg)

	s.publishEvent(ctx, ticket, msg, flags)

	s.logger.InfowCtx(ctx, "Inbound message stored",
		"ticket_id", ticket.ID,
		"message_id", msg.ID,
		"from", MaskAddress(envelope.From),
		"content_bytes", len(content),
		"flags", flags,
		"notified", attempt.Success,
	)
	metrics.InboundDeliveriesTotal.WithLabelValues("accepted").Inc()
	metrics.ObserveInboundDuration(time.Since(start), "accepted")

	return &Result{
		TicketID:     ticket.ID,
		MessageID:    msg.ID,
		Flags:        flags,
		Notification: &attempt,
	}, nil
}

func (s *Service) reject(ctx context.Context, stage string, err error, start time.Time) error {
	code := errors.Code(err)
	metrics.InboundRejectionsTotal.WithLabelValues(stage, code).Inc()
	metrics.InboundDeliveriesTotal.WithLabelValues("rejected").Inc()
	metrics.ObserveInboundDuration(time.Since(start), "rejected")

	s.logger.WarnwCtx(ctx, "Inbound delivery rejected",
		"stage", stage,
		"error_code", code,
		"error", err,
	)
	return err
}

// publishEvent emits message.created for downstream consumers. The
// message is already durable; publish failures degrade to a warning.
func (s *Service) publishEvent(ctx context.Context, ticket *Ticket, msg *Message, flags []string) {
	if s.events == nil {
		return
	}

	event := MessageCreatedEvent{
		MessageID: msg.ID,
		TicketID:  ticket.ID,
		StoreID:   ticket.Store.ID,
		Flags:     flags,
		CreatedAt: msg.CreatedAt,
	}

	if err := s.events.PublishMessageCreated(ctx, event); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish message.created event",
			"ticket_id", ticket.ID,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// selectContent prefers the plain-text body so attacker-controlled
// markup is never treated as the canonical content.
func selectContent(env *InboundEnvelope) string {
	if env.TextBody != "" {
		return env.TextBody
	}
	return env.HTMLBody
}
