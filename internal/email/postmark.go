package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const postmarkAPIURL = "https://api.postmarkapp.com/email"

// Message is one outbound notification. Params carry the purpose-specific
// values such as the sign-in code or confirmation URL.
type Message struct {
	To      string
	Purpose string
	Params  map[string]string
}

type Client struct {
	serverToken string
	fromEmail   string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// formatCode splits a code in two halves for readability.
func formatCode(code string) string {
	if len(code) < 6 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// Render builds the subject and bodies for msg.
func Render(msg Message) (subject, text, htmlBody string, err error) {
	p := msg.Params
	switch msg.Purpose {
	case "sign_in", "sign_up":
		subject = "Your Tenantry sign-in code"
		intro := "Enter this code to sign in"
		if msg.Purpose == "sign_up" {
			subject = "Welcome to Tenantry"
			intro = "Enter this code to finish creating your account"
		}
		code := formatCode(p["code"])
		text = fmt.Sprintf("%s:\n\n%s\n\nThis code expires in %s.", intro, code, p["expires_in"])
		htmlBody = fmt.Sprintf(`<p>%s:</p><p><strong>%s</strong></p><p>This code expires in %s.</p>`,
			intro, html.EscapeString(code), html.EscapeString(p["expires_in"]))
	case "email_change_confirmation":
		subject = "Confirm your new email address"
		text = fmt.Sprintf("Follow the link below to use %s for your Tenantry account:\n\n%s\n\nIf you did not ask for this, ignore this email.",
			p["new_email"], p["url"])
		htmlBody = fmt.Sprintf(`<p>Follow the link below to use %s for your Tenantry account:</p><p><a href="%s">Confirm email address</a></p><p>If you did not ask for this, ignore this email.</p>`,
			html.EscapeString(p["new_email"]), html.EscapeString(p["url"]))
	case "email_changed":
		subject = "Your email address was changed"
		text = fmt.Sprintf("The email address on your Tenantry account was changed from %s to %s.", p["old_email"], p["new_email"])
		htmlBody = fmt.Sprintf(`<p>The email address on your Tenantry account was changed from %s to %s.</p>`,
			html.EscapeString(p["old_email"]), html.EscapeString(p["new_email"]))
	default:
		return "", "", "", fmt.Errorf("unknown email purpose %q", msg.Purpose)
	}
	return subject, text, htmlBody, nil
}

// Deliver sends msg through the Postmark API.
func (c *Client) Deliver(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	subject, textBody, htmlBody, err := Render(msg)
	if err != nil {
		return err
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       msg.To,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      strings.ReplaceAll(msg.Purpose, "_", "-"),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", postmarkAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
