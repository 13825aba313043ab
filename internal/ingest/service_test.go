package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskrelay/internal/constants"
	"deskrelay/internal/logger"
	"deskrelay/pkg/errors"
)

type fakeTicketRepo struct {
	tickets map[int64]*Ticket
	err     error
}

func (f *fakeTicketRepo) GetTicket(ctx context.Context, id int64) (*Ticket, error) {
	if f.err != nil {
		return nil, f.err
	}
	ticket, ok := f.tickets[id]
	if !ok {
		return nil, errors.ErrTicketNotFound
	}
	return ticket, nil
}

type fakeMessageRepo struct {
	inserted   []*Message
	nextID     int64
	existingID int64
	err        error
}

func (f *fakeMessageRepo) InsertMessage(ctx context.Context, msg *Message) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	if f.existingID > 0 {
		return f.existingID, false, nil
	}
	f.nextID++
	f.inserted = append(f.inserted, msg)
	return f.nextID, true, nil
}

func (f *fakeMessageRepo) FindMessage(ctx context.Context, ticketID int64, emailMessageID string) (int64, error) {
	if f.existingID > 0 {
		return f.existingID, nil
	}
	return 0, fmt.Errorf("no message for ticket %d", ticketID)
}

type fakeDedupStore struct {
	seen      bool
	seenErr   error
	markErr   error
	seenCalls int
	markCalls int
}

func (f *fakeDedupStore) Seen(ctx context.Context, ticketID int64, emailMessageID string) (bool, error) {
	f.seenCalls++
	return f.seen, f.seenErr
}

func (f *fakeDedupStore) MarkSeen(ctx context.Context, ticketID int64, emailMessageID string) error {
	f.markCalls++
	return f.markErr
}

type fakeEventPublisher struct {
	events []MessageCreatedEvent
	err    error
}

func (f *fakeEventPublisher) PublishMessageCreated(ctx context.Context, event MessageCreatedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type pipelineFixture struct {
	service *Service
	tickets *fakeTicketRepo
	msgs    *fakeMessageRepo
	dedup   *fakeDedupStore
	sender  *fakeSender
	events  *fakeEventPublisher
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	ticket := ticketFixture()
	ticket.AssignedUser = &User{ID: 1, Email: "agent@acme.example.com"}

	classifier, err := NewClassifier(nil, logger.NopLogger())
	require.NoError(t, err)

	f := &pipelineFixture{
		tickets: &fakeTicketRepo{tickets: map[int64]*Ticket{ticket.ID: ticket}},
		msgs:    &fakeMessageRepo{},
		dedup:   &fakeDedupStore{},
		sender:  &fakeSender{},
		events:  &fakeEventPublisher{},
	}

	f.service = NewService(ServiceDeps{
		Verifier:        NewVerifier("", SkipForTesting, constants.DefaultTimestampWindow, logger.NopLogger()),
		Extractor:       NewExtractor(constants.DefaultMaxPayloadBytes, logger.NopLogger()),
		Classifier:      classifier,
		Tickets:         f.tickets,
		Messages:        f.msgs,
		Dedup:           f.dedup,
		Dispatcher:      NewDispatcher(f.sender, nil, logger.NopLogger()),
		Events:          f.events,
		MinContentBytes: constants.DefaultMinContentBytes,
		Logger:          logger.NopLogger(),
	})

	return f
}

func validFields() map[string][]string {
	return map[string][]string{
		"to":      {"ticket-42@reply.example.com"},
		"from":    {"alice@example.com"},
		"subject": {"Re: broken widget"},
		"text":    {"The replacement part you sent does not fit the housing. The mounting holes are offset by roughly five millimeters, so the bracket cannot be screwed in at all."},
		"headers": {`{"Message-ID": "<abc@mail.example.com>"}`},
	}
}

func (f *pipelineFixture) process(t *testing.T, fields map[string][]string) (*Result, error) {
	t.Helper()
	req := multipartRequest(t, fields)
	return f.service.Process(req.Context(), "", "", req)
}

func TestProcessStoresMessage(t *testing.T) {
	f := newPipelineFixture(t)

	result, err := f.process(t, validFields())
	require.NoError(t, err)

	assert.Equal(t, int64(42), result.TicketID)
	assert.Equal(t, int64(1), result.MessageID)
	assert.False(t, result.Duplicate)
	assert.Empty(t, result.Flags)

	require.Len(t, f.msgs.inserted, 1)
	msg := f.msgs.inserted[0]
	assert.Equal(t, int64(42), msg.TicketID)
	assert.True(t, msg.IsFromCustomer)
	assert.Nil(t, msg.SenderID)
	assert.Equal(t, "alice@example.com", msg.EmailFrom)
	assert.Equal(t, "ticket-42@reply.example.com", msg.EmailTo)
	assert.Equal(t, "<abc@mail.example.com>", msg.EmailMessageID)
	assert.Contains(t, msg.Content, "mounting holes")

	require.NotNil(t, result.Notification)
	assert.True(t, result.Notification.Success)
	assert.Equal(t, "agent@acme.example.com", result.Notification.Recipient)
	assert.Equal(t, "assigned_user", result.Notification.RecipientType)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, int64(42), f.events.events[0].TicketID)
	assert.Equal(t, int64(3), f.events.events[0].StoreID)
}

func TestProcessPrefersTextOverHTML(t *testing.T) {
	f := newPipelineFixture(t)

	fields := validFields()
	fields["html"] = []string{"<p>html body</p>"}

	_, err := f.process(t, fields)
	require.NoError(t, err)

	require.Len(t, f.msgs.inserted, 1)
	assert.NotContains(t, f.msgs.inserted[0].Content, "<p>")
}

func TestProcessFallsBackToHTML(t *testing.T) {
	f := newPipelineFixture(t)

	fields := validFields()
	delete(fields, "text")
	fields["html"] = []string{"<p>html body</p>"}

	_, err := f.process(t, fields)
	require.NoError(t, err)

	require.Len(t, f.msgs.inserted, 1)
	assert.Equal(t, "<p>html body</p>", f.msgs.inserted[0].Content)
}

func TestProcessShortContentIsStillStored(t *testing.T) {
	f := newPipelineFixture(t)

	fields := validFields()
	fields["text"] = []string{"ok"}

	result, err := f.process(t, fields)
	require.NoError(t, err)

	assert.Len(t, f.msgs.inserted, 1)
	assert.Equal(t, "ok", f.msgs.inserted[0].Content)
	assert.False(t, result.Duplicate)
}

func TestProcessDuplicateDelivery(t *testing.T) {
	f := newPipelineFixture(t)
	f.msgs.existingID = 77

	result, err := f.process(t, validFields())
	require.NoError(t, err)

	assert.True(t, result.Duplicate)
	assert.Equal(t, int64(77), result.MessageID)
	assert.Nil(t, result.Notification)
	assert.Empty(t, f.sender.recipients, "duplicate must not re-notify")
	assert.Empty(t, f.events.events, "duplicate must not re-publish")
}

func TestProcessDedupCacheShortCircuits(t *testing.T) {
	f := newPipelineFixture(t)
	f.dedup.seen = true
	f.msgs.existingID = 77

	result, err := f.process(t, validFields())
	require.NoError(t, err)

	assert.True(t, result.Duplicate)
	assert.Equal(t, int64(77), result.MessageID)
	assert.Empty(t, f.msgs.inserted, "cache hit must skip the insert")
	assert.Empty(t, f.sender.recipients)
	assert.Empty(t, f.events.events)
}

func TestProcessDedupCacheHitWithoutRowFallsBack(t *testing.T) {
	f := newPipelineFixture(t)
	f.dedup.seen = true

	result, err := f.process(t, validFields())
	require.NoError(t, err)

	assert.False(t, result.Duplicate, "a cache entry without a stored row must not drop the delivery")
	assert.Len(t, f.msgs.inserted, 1)
}

func TestProcessDedupStoreFailureDegrades(t *testing.T) {
	f := newPipelineFixture(t)
	f.dedup.seenErr = fmt.Errorf("redis down")

	result, err := f.process(t, validFields())
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Len(t, f.msgs.inserted, 1)
	assert.Equal(t, 1, f.dedup.seenCalls)
}

func TestProcessMarksDedupCacheAfterStore(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.process(t, validFields())
	require.NoError(t, err)
	assert.Equal(t, 1, f.dedup.markCalls)
}

func TestProcessFailedInsertDoesNotClaimDedupCache(t *testing.T) {
	f := newPipelineFixture(t)
	f.msgs.err = fmt.Errorf("connection reset")

	_, err := f.process(t, validFields())
	require.Error(t, err)
	assert.Equal(t, 0, f.dedup.markCalls, "the cache must only be claimed once a row exists")
}

func TestProcessRejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(fields map[string][]string)
		wantCode string
	}{
		{
			name: "sender mismatch",
			mutate: func(fields map[string][]string) {
				fields["from"] = []string{"mallory@example.com"}
			},
			wantCode: "SENDER_MISMATCH",
		},
		{
			name: "unknown ticket",
			mutate: func(fields map[string][]string) {
				fields["to"] = []string{"ticket-999@reply.example.com"}
			},
			wantCode: "TICKET_NOT_FOUND",
		},
		{
			name: "recipient without ticket reference",
			mutate: func(fields map[string][]string) {
				fields["to"] = []string{"support@reply.example.com"}
			},
			wantCode: "NO_TICKET_REFERENCE",
		},
		{
			name: "missing body",
			mutate: func(fields map[string][]string) {
				delete(fields, "text")
			},
			wantCode: "MALFORMED_PAYLOAD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t)

			fields := validFields()
			tt.mutate(fields)

			_, err := f.process(t, fields)
			assert.True(t, errors.IsCode(err, tt.wantCode), "expected %s, got %v", tt.wantCode, err)
			assert.Empty(t, f.msgs.inserted, "rejected delivery must not store anything")
			assert.Empty(t, f.sender.recipients, "rejected delivery must not notify")
		})
	}
}

func TestProcessStoreFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.msgs.err = fmt.Errorf("connection reset")

	_, err := f.process(t, validFields())
	assert.True(t, errors.IsCode(err, "INTERNAL_ERROR"), "expected INTERNAL_ERROR, got %v", err)
	assert.Empty(t, f.sender.recipients)
}

func TestProcessNotificationFailureDoesNotFailDelivery(t *testing.T) {
	f := newPipelineFixture(t)
	f.sender.err = fmt.Errorf("relay unavailable")

	result, err := f.process(t, validFields())
	require.NoError(t, err)

	assert.Len(t, f.msgs.inserted, 1)
	require.NotNil(t, result.Notification)
	assert.False(t, result.Notification.Success)
	assert.Contains(t, result.Notification.Reason, "relay unavailable")
}

func TestProcessEventPublishFailureDoesNotFailDelivery(t *testing.T) {
	f := newPipelineFixture(t)
	f.events.err = fmt.Errorf("kafka down")

	result, err := f.process(t, validFields())
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Len(t, f.msgs.inserted, 1)
}

func TestProcessFlagsAutoreply(t *testing.T) {
	f := newPipelineFixture(t)

	fields := validFields()
	fields["headers"] = []string{`{"Message-ID": "<abc@mail.example.com>", "Auto-Submitted": "auto-replied"}`}

	result, err := f.process(t, fields)
	require.NoError(t, err)

	assert.Equal(t, []string{"auto_submitted"}, result.Flags)
	assert.Len(t, f.msgs.inserted, 1, "flagged messages are still stored")
}

func TestProcessEnforcedSignature(t *testing.T) {
	classifier, err := NewClassifier(nil, logger.NopLogger())
	require.NoError(t, err)

	f := newPipelineFixture(t)
	f.service = NewService(ServiceDeps{
		Verifier:        NewVerifier("test-secret", Enforce, constants.DefaultTimestampWindow, logger.NopLogger()),
		Extractor:       NewExtractor(constants.DefaultMaxPayloadBytes, logger.NopLogger()),
		Classifier:      classifier,
		Tickets:         f.tickets,
		Messages:        f.msgs,
		Dispatcher:      NewDispatcher(f.sender, nil, logger.NopLogger()),
		MinContentBytes: constants.DefaultMinContentBytes,
		Logger:          logger.NopLogger(),
	})

	req := multipartRequest(t, validFields())
	_, err = f.service.Process(req.Context(), "", "", req)
	assert.True(t, errors.IsCode(err, "INVALID_SIGNATURE"))
	assert.Empty(t, f.msgs.inserted)
}
