package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskrelay/pkg/errors"
)

func TestResolveTicketAddress(t *testing.T) {
	tests := []struct {
		name     string
		to       string
		wantID   int64
		wantFail bool
	}{
		{
			name:   "plain ticket address",
			to:     "ticket-42@reply.example.com",
			wantID: 42,
		},
		{
			name:   "uppercase is normalized",
			to:     "TICKET-42@Reply.Example.COM",
			wantID: 42,
		},
		{
			name:   "display name form",
			to:     `"Support" <ticket-1234@reply.example.com>`,
			wantID: 1234,
		},
		{
			name:   "surrounding whitespace",
			to:     "  ticket-7@reply.example.com  ",
			wantID: 7,
		},
		{
			name:     "no ticket prefix",
			to:       "support@reply.example.com",
			wantFail: true,
		},
		{
			name:     "missing id",
			to:       "ticket-@reply.example.com",
			wantFail: true,
		},
		{
			name:     "non-numeric id",
			to:       "ticket-abc@reply.example.com",
			wantFail: true,
		},
		{
			name:     "zero id",
			to:       "ticket-0@reply.example.com",
			wantFail: true,
		},
		{
			name:     "id above bound",
			to:       "ticket-10000000@reply.example.com",
			wantFail: true,
		},
		{
			name:     "id overflowing int64",
			to:       "ticket-99999999999999999999@reply.example.com",
			wantFail: true,
		},
		{
			name:     "empty address",
			to:       "",
			wantFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ResolveTicketAddress(tt.to)
			if tt.wantFail {
				assert.True(t, errors.IsCode(err, "NO_TICKET_REFERENCE"), "expected NO_TICKET_REFERENCE, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, ref.TicketID)
		})
	}
}
