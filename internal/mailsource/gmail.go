package mailsource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/backoff"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// Gmail implements Source against the Gmail REST API. The base URL is
// configurable so tests can point it at an httptest server.
type Gmail struct {
	baseURL  string
	client   *http.Client
	pageSize int

	owner string // cached after the first Owner call
}

// NewGmail builds a Gmail source using the given OAuth token source.
func NewGmail(baseURL string, ts oauth2.TokenSource, timeout time.Duration, pageSize int) *Gmail {
	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = timeout
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Gmail{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		pageSize: pageSize,
	}
}

type gmailProfile struct {
	EmailAddress string `json:"emailAddress"`
}

type gmailMessageList struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	InternalDate string `json:"internalDate"` // epoch millis as string
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Body struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []gmailPart `json:"parts"`
	} `json:"payload"`
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

// Owner fetches the authenticated profile address.
func (g *Gmail) Owner(ctx context.Context) (string, error) {
	if g.owner != "" {
		return g.owner, nil
	}
	var profile gmailProfile
	if err := g.getJSON(ctx, "/gmail/v1/users/me/profile", &profile); err != nil {
		return "", err
	}
	g.owner = domain.NormalizeAddress(profile.EmailAddress)
	return g.owner, nil
}

// ListSent streams sent messages since the given time.
func (g *Gmail) ListSent(ctx context.Context, since time.Time, fn func(domain.Message) error) error {
	q := fmt.Sprintf("in:sent after:%s", since.UTC().Format("2006/01/02"))
	return g.list(ctx, q, fn)
}

// ListWith streams both directions of correspondence with one address.
func (g *Gmail) ListWith(ctx context.Context, address string, since time.Time, fn func(domain.Message) error) error {
	address = domain.NormalizeAddress(address)
	q := fmt.Sprintf("(from:%s OR to:%s) after:%s", address, address, since.UTC().Format("2006/01/02"))
	return g.list(ctx, q, fn)
}

func (g *Gmail) list(ctx context.Context, query string, fn func(domain.Message) error) error {
	owner, err := g.Owner(ctx)
	if err != nil {
		return err
	}

	pageToken := ""
	for {
		v := url.Values{}
		v.Set("q", query)
		v.Set("maxResults", fmt.Sprintf("%d", g.pageSize))
		if pageToken != "" {
			v.Set("pageToken", pageToken)
		}

		var page gmailMessageList
		if err := g.getJSON(ctx, "/gmail/v1/users/me/messages?"+v.Encode(), &page); err != nil {
			return err
		}

		for _, ref := range page.Messages {
			var raw gmailMessage
			path := fmt.Sprintf("/gmail/v1/users/me/messages/%s?format=full", ref.ID)
			if err := g.getJSON(ctx, path, &raw); err != nil {
				return err
			}
			msg := parseGmailMessage(raw, owner)
			if err := fn(msg); err != nil {
				return err
			}
		}

		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

// getJSON fetches a Gmail API path with retry. Auth failures are permanent;
// 429 and 5xx responses are retried on the mail-fetch schedule.
func (g *Gmail) getJSON(ctx context.Context, path string, out interface{}) error {
	return backoff.Retry(ctx, backoff.MailFetch(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
		if err != nil {
			return &backoff.Permanent{Err: err}
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("gmail request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &backoff.Permanent{Err: ErrAuthMissing}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			logger.Warn("gmail transient error", "status", resp.StatusCode, "path", path)
			return fmt.Errorf("gmail status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &backoff.Permanent{Err: fmt.Errorf("gmail status %d: %s", resp.StatusCode, body)}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &backoff.Permanent{Err: fmt.Errorf("decode gmail response: %w", err)}
		}
		return nil
	})
}

func parseGmailMessage(raw gmailMessage, owner string) domain.Message {
	msg := domain.Message{
		ExternalID: raw.ID,
		ThreadID:   raw.ThreadID,
	}

	for _, h := range raw.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.Sender = domain.NormalizeAddress(h.Value)
		case "to":
			msg.To = splitAddressList(h.Value)
		case "cc":
			msg.Cc = splitAddressList(h.Value)
		case "bcc":
			msg.Bcc = splitAddressList(h.Value)
		case "subject":
			msg.Subject = h.Value
		case "date":
			if t, err := parseMailDate(h.Value); err == nil {
				msg.SentAt = t
			}
		}
	}
	if msg.SentAt.IsZero() && raw.InternalDate != "" {
		var millis int64
		fmt.Sscanf(raw.InternalDate, "%d", &millis)
		if millis > 0 {
			msg.SentAt = time.UnixMilli(millis).UTC()
		}
	}

	if msg.Sender == owner {
		msg.Direction = domain.DirectionOutbound
	} else {
		msg.Direction = domain.DirectionInbound
	}

	msg.Body = extractTextBody(raw)
	return msg
}

func splitAddressList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if a := domain.NormalizeAddress(part); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func parseMailDate(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// extractTextBody walks the MIME tree for the first text/plain part, falling
// back to the top-level body.
func extractTextBody(raw gmailMessage) string {
	if body := decodeBase64URL(raw.Payload.Body.Data); body != "" {
		return body
	}
	return findTextPart(raw.Payload.Parts)
}

func findTextPart(parts []gmailPart) string {
	for _, p := range parts {
		if p.MimeType == "text/plain" {
			if body := decodeBase64URL(p.Body.Data); body != "" {
				return body
			}
		}
		if body := findTextPart(p.Parts); body != "" {
			return body
		}
	}
	return ""
}

func decodeBase64URL(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}
