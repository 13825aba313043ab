package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"deskrelay/internal/constants"
	"deskrelay/internal/ingest"
	"deskrelay/internal/logger"
)

// Mailer sends agent notifications through the relay provider's send
// API. The provider expects form-encoded fields, mirroring the inbound
// webhook convention.
type Mailer struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger.Logger
}

func NewMailer(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *Mailer {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &Mailer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

func (m *Mailer) Send(ctx context.Context, ticket *ingest.Ticket, msg *ingest.Message, recipient string) error {
	form := url.Values{}
	form.Set("to", recipient)
	form.Set("from", ticket.Store.DefaultSenderEmail)
	form.Set("subject", notificationSubject(ticket))
	form.Set("text", notificationBody(ticket, msg))

	endpoint := m.baseURL + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

func notificationSubject(ticket *ingest.Ticket) string {
	return fmt.Sprintf("New reply on ticket #%d: %s", ticket.ID, ticket.Subject)
}

const previewLimitBytes = 500

// truncatePreview cuts s to at most limit bytes on a rune boundary so
// a multi-byte character is never split mid-sequence.
func truncatePreview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func notificationBody(ticket *ingest.Ticket, msg *ingest.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The customer replied to ticket #%d (%s).\n\n", ticket.ID, ticket.Subject)

	preview := truncatePreview(msg.Content, previewLimitBytes)
	if preview == "" {
		preview = "(no text content)"
	}
	b.WriteString(preview)
	b.WriteString("\n")

	return b.String()
}
