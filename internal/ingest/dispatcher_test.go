package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"deskrelay/internal/logger"
)

type fakeSender struct {
	recipients []string
	err        error
	panicWith  interface{}
}

func (s *fakeSender) Send(ctx context.Context, ticket *Ticket, msg *Message, recipient string) error {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	s.recipients = append(s.recipients, recipient)
	return s.err
}

func ticketFixture() *Ticket {
	return &Ticket{
		ID:       42,
		Subject:  "Broken widget",
		Customer: Customer{ID: 7, Email: "alice@example.com"},
		Store:    Store{ID: 3, Name: "Acme", DefaultSenderEmail: "support@acme.example.com"},
	}
}

func TestRecipientCandidates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *Ticket)
		want   []candidate
	}{
		{
			name: "assigned user first",
			mutate: func(tk *Ticket) {
				tk.AssignedUser = &User{ID: 1, Email: "agent@acme.example.com"}
				tk.CreatedBy = &User{ID: 2, Email: "owner@acme.example.com"}
			},
			want: []candidate{
				{kind: "assigned_user", recipient: "agent@acme.example.com"},
				{kind: "store_sender", recipient: "support@acme.example.com"},
				{kind: "creator", recipient: "owner@acme.example.com"},
			},
		},
		{
			name:   "store sender when unassigned",
			mutate: func(tk *Ticket) {},
			want: []candidate{
				{kind: "store_sender", recipient: "support@acme.example.com"},
			},
		},
		{
			name: "creator when store has no sender",
			mutate: func(tk *Ticket) {
				tk.Store.DefaultSenderEmail = ""
				tk.CreatedBy = &User{ID: 2, Email: "owner@acme.example.com"}
			},
			want: []candidate{
				{kind: "creator", recipient: "owner@acme.example.com"},
			},
		},
		{
			name: "duplicates collapse to highest priority",
			mutate: func(tk *Ticket) {
				tk.AssignedUser = &User{ID: 1, Email: "Support@ACME.example.com"}
			},
			want: []candidate{
				{kind: "assigned_user", recipient: "support@acme.example.com"},
			},
		},
		{
			name: "no recipients at all",
			mutate: func(tk *Ticket) {
				tk.Store.DefaultSenderEmail = ""
			},
			want: []candidate{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := ticketFixture()
			tt.mutate(ticket)
			assert.Equal(t, tt.want, recipientCandidates(ticket))
		})
	}
}

func TestDispatchDeliversToFirstCandidate(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, logger.NopLogger())

	ticket := ticketFixture()
	ticket.AssignedUser = &User{ID: 1, Email: "agent@acme.example.com"}
	msg := &Message{ID: 9, TicketID: ticket.ID}

	attempt := d.Dispatch(context.Background(), ticket, msg)

	assert.True(t, attempt.Success)
	assert.Equal(t, "agent@acme.example.com", attempt.Recipient)
	assert.Equal(t, "assigned_user", attempt.RecipientType)
	assert.Equal(t, int64(9), attempt.MessageID)
	assert.Equal(t, []string{"agent@acme.example.com"}, sender.recipients)
}

func TestDispatchSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay unavailable")}
	d := NewDispatcher(sender, nil, logger.NopLogger())

	attempt := d.Dispatch(context.Background(), ticketFixture(), &Message{ID: 9})

	assert.False(t, attempt.Success)
	assert.Equal(t, "store_sender", attempt.RecipientType)
	assert.Contains(t, attempt.Reason, "relay unavailable")
}

func TestDispatchNoRecipient(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, logger.NopLogger())

	ticket := ticketFixture()
	ticket.Store.DefaultSenderEmail = ""

	attempt := d.Dispatch(context.Background(), ticket, &Message{ID: 9})

	assert.False(t, attempt.Success)
	assert.Empty(t, attempt.Recipient)
	assert.Equal(t, "no recipient available", attempt.Reason)
	assert.Empty(t, sender.recipients)
}

func TestDispatchRecoversSenderPanic(t *testing.T) {
	sender := &fakeSender{panicWith: "boom"}
	d := NewDispatcher(sender, nil, logger.NopLogger())

	attempt := d.Dispatch(context.Background(), ticketFixture(), &Message{ID: 9})

	assert.False(t, attempt.Success)
	assert.NotEmpty(t, attempt.Reason)
}
