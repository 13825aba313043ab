package ingest

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"deskrelay/internal/constants"
	"deskrelay/pkg/errors"
)

// The domain part is intentionally permissive: tenants may verify any
// number of reply-subdomains and all of them route here.
var ticketAddressPattern = regexp.MustCompile(`^ticket-([0-9]+)@[a-z0-9][a-z0-9.\-]*$`)

// ResolveTicketAddress decodes the ticket reference embedded in the
// recipient address. Purely structural: it does not check that the
// ticket exists.
func ResolveTicketAddress(to string) (TicketReference, error) {
	addr := strings.ToLower(strings.TrimSpace(to))
	if parsed, err := mail.ParseAddress(to); err == nil {
		addr = strings.ToLower(strings.TrimSpace(parsed.Address))
	}

	m := ticketAddressPattern.FindStringSubmatch(addr)
	if m == nil {
		return TicketReference{}, errors.ErrNoTicketReference
	}

	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		// Digit runs long enough to overflow int64 are absurd lookups.
		return TicketReference{}, errors.ErrNoTicketReference.WithCause(err)
	}

	if id <= 0 || id >= constants.MaxTicketID {
		return TicketReference{}, errors.ErrNoTicketReference.WithDetail("message", "ticket id out of range")
	}

	return TicketReference{TicketID: id}, nil
}
