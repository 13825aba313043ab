package ingest

import (
	"net/mail"
	"strings"

	"deskrelay/pkg/errors"
)

// AuthenticateSender confirms the envelope sender is the customer on
// the resolved ticket. The external failure is generic; diagnosis goes
// to logs with masked addresses only.
func AuthenticateSender(envelopeFrom, customerEmail string) error {
	if NormalizeAddress(envelopeFrom) != NormalizeAddress(customerEmail) {
		return errors.ErrSenderMismatch
	}
	return nil
}

// NormalizeAddress extracts the bare address from a
// `"Display Name" <addr>` form, trims it, and lowercases it.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if parsed, err := mail.ParseAddress(s); err == nil {
		s = parsed.Address
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// MaskAddress keeps the first two characters of the local part plus the
// domain, enough to diagnose without exposing the customer address in
// logs.
func MaskAddress(s string) string {
	addr := NormalizeAddress(s)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		if len(addr) <= 2 {
			return "***"
		}
		return addr[:2] + "***"
	}

	local, domain := addr[:at], addr[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
