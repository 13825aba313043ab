package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"deskrelay/internal/logger"
	"deskrelay/pkg/errors"
)

// Extractor parses the relay provider's multipart form into a typed
// envelope. The provider repeats fields per key; the first occurrence
// of each named field wins.
type Extractor struct {
	maxPayloadBytes int64
	logger          logger.Logger
}

func NewExtractor(maxPayloadBytes int64, log logger.Logger) *Extractor {
	return &Extractor{
		maxPayloadBytes: maxPayloadBytes,
		logger:          log,
	}
}

func (e *Extractor) Extract(r *http.Request) (*InboundEnvelope, error) {
	if err := r.ParseMultipartForm(e.maxPayloadBytes); err != nil {
		return nil, errors.ErrMalformedPayload.WithCause(err)
	}

	form := r.MultipartForm
	if form == nil {
		return nil, errors.ErrMalformedPayload.WithDetail("message", "expected multipart/form-data body")
	}

	env := &InboundEnvelope{
		To:       firstValue(form.Value, "to"),
		From:     firstValue(form.Value, "from"),
		Subject:  firstValue(form.Value, "subject"),
		TextBody: firstValue(form.Value, "text"),
		HTMLBody: firstValue(form.Value, "html"),
		headers:  e.parseRawHeaders(r.Context(), firstValue(form.Value, "headers")),
	}

	if env.To == "" || env.From == "" {
		return nil, errors.ErrMalformedPayload.WithDetail("message", "to and from fields are required")
	}

	if env.TextBody == "" && env.HTMLBody == "" {
		return nil, errors.ErrMalformedPayload.WithDetail("message", "at least one of text or html body is required")
	}

	return env, nil
}

func firstValue(values map[string][]string, key string) string {
	if vs, ok := values[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseRawHeaders decodes the JSON-encoded header map the provider
// attaches. Headers are auxiliary metadata: a parse failure degrades to
// an empty map instead of rejecting the delivery.
func (e *Extractor) parseRawHeaders(ctx context.Context, raw string) map[string]string {
	headers := make(map[string]string)
	if raw == "" {
		return headers
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		e.logger.WarnwCtx(ctx, "Failed to parse raw headers, continuing without them",
			"error", err,
			"raw_len", len(raw),
		)
		return headers
	}

	for k, v := range decoded {
		headers[strings.ToLower(k)] = v
	}
	return headers
}
