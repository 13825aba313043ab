package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"deskrelay/internal/logger"
	"deskrelay/pkg/errors"
)

// VerificationPolicy decides whether webhook signatures are enforced.
// It is fixed at startup from configuration; request content can never
// influence it.
type VerificationPolicy int

const (
	Enforce VerificationPolicy = iota
	SkipForTesting
)

type Verifier struct {
	secret []byte
	policy VerificationPolicy
	window time.Duration
	logger logger.Logger
}

func NewVerifier(secret string, policy VerificationPolicy, window time.Duration, log logger.Logger) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		policy: policy,
		window: window,
		logger: log,
	}
}

// Verify authenticates one delivery. The relay provider signs
// timestamp||secret with HMAC-SHA256; the timestamp must be within the
// anti-replay window so captured requests cannot be replayed later.
func (v *Verifier) Verify(signature, timestamp string, now time.Time) error {
	if v.policy == SkipForTesting {
		return nil
	}

	if signature == "" || timestamp == "" {
		return errors.ErrInvalidSignature.WithDetail("message", "missing signature or timestamp header")
	}

	// A timestamp that does not parse is malformed signing input, not a
	// freshness failure; STALE_REQUEST is reserved for valid timestamps
	// outside the window.
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.ErrInvalidSignature.WithCause(err)
	}

	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > v.window {
		return errors.ErrStaleRequest
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write(v.secret)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time compare; a plain string compare would leak how many
	// leading characters of the signature were correct.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.ErrInvalidSignature
	}

	return nil
}

// Sign computes the signature the provider is expected to send for the
// given timestamp. Exposed for test fixtures and local tooling.
func (v *Verifier) Sign(timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write(v.secret)
	return hex.EncodeToString(mac.Sum(nil))
}
