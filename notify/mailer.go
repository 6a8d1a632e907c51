// Package notify delivers checkout lifecycle emails through an HTTP mail
// relay. Delivery is best effort: callers attach these as service hooks and
// failures never block the payment flow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"
)

// CTA is a call-to-action button rendered at the bottom of a message.
type CTA struct {
	Text string
	URL  string
}

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Heading string
	Lines   []string
	CTA     *CTA
}

// Notifier sends a message. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }

// HTTPMailer posts JSON to a mail relay endpoint, e.g. a Resend- or
// SendGrid-style API.
type HTTPMailer struct {
	endpoint   string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewHTTPMailer creates a mailer. from is the sender address shown to
// recipients.
func NewHTTPMailer(endpoint, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{
		endpoint:   endpoint,
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type mailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(mailPayload{
		From:    m.from,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    RenderHTML(msg),
	})
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}
	return nil
}

// RenderHTML renders a message as a simple branded HTML card.
func RenderHTML(msg Message) string {
	var b bytes.Buffer
	b.WriteString(`<div style="font-family:Arial,Helvetica,sans-serif;max-width:560px;margin:0 auto;border:1px solid #e6e8eb;border-radius:12px;overflow:hidden">`)
	b.WriteString(`<div style="background:#0052FF;color:#ffffff;padding:20px 24px;font-size:18px;font-weight:bold">`)
	b.WriteString(html.EscapeString(msg.Heading))
	b.WriteString(`</div><div style="padding:24px;color:#1d2126;font-size:14px;line-height:1.6">`)
	for _, line := range msg.Lines {
		b.WriteString(`<p style="margin:0 0 12px">`)
		b.WriteString(html.EscapeString(line))
		b.WriteString(`</p>`)
	}
	if msg.CTA != nil {
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(msg.CTA.URL))
		b.WriteString(`" style="display:inline-block;margin-top:8px;background:#0052FF;color:#ffffff;text-decoration:none;padding:10px 20px;border-radius:8px;font-weight:bold">`)
		b.WriteString(html.EscapeString(msg.CTA.Text))
		b.WriteString(`</a>`)
	}
	b.WriteString(`</div></div>`)
	return b.String()
}

var (
	_ Notifier = (*HTTPMailer)(nil)
	_ Notifier = Nop{}
)
