package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"

	"tgtg_watcher/internal/model"
)

const notificationTitle = "TooGoodToGo Watcher"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns the client used by webhook channels.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON is a shared helper used by webhook channels.
func postJSON(ctx context.Context, client HTTPClient, endpoint string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func clickExtras(link string) map[string]any {
	return map[string]any{
		"client::notification": map[string]any{
			"click": map[string]string{"url": link},
		},
	}
}

// --- IFTTT ---

const iftttBaseURL = "https://maker.ifttt.com/trigger"

// IFTTT triggers one maker webhook per configured event.
type IFTTT struct {
	client  HTTPClient
	baseURL string
}

// NewIFTTT creates an IFTTT channel.
func NewIFTTT(client HTTPClient) *IFTTT {
	return &IFTTT{client: client, baseURL: iftttBaseURL}
}

func (i *IFTTT) Name() string { return "ifttt" }

func (i *IFTTT) Enabled(n model.Notifications) bool { return n.IFTTT.Enabled }

func (i *IFTTT) Send(ctx context.Context, acct model.Account, msg Message) error {
	cfg := acct.Notifications.IFTTT
	if cfg.WebhookKey == "" || len(cfg.WebhookEvents) == 0 {
		return fmt.Errorf("ifttt: %w", ErrMissingCredentials)
	}

	payload := map[string]string{"value1": msg.Text, "value2": msg.HTML}
	var errs error
	for _, event := range cfg.WebhookEvents {
		endpoint := fmt.Sprintf("%s/%s/with/key/%s",
			strings.TrimRight(i.baseURL, "/"), url.PathEscape(event), url.PathEscape(cfg.WebhookKey))
		if err := postJSON(ctx, i.client, endpoint, payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("event %s: %w", event, err))
		}
	}
	return errs
}

// --- Gotify (Self-Hosted Push) ---

// Gotify posts to a gotify server's message endpoint.
type Gotify struct {
	client HTTPClient
}

// NewGotify creates a Gotify channel.
func NewGotify(client HTTPClient) *Gotify {
	return &Gotify{client: client}
}

func (g *Gotify) Name() string { return "gotify" }

func (g *Gotify) Enabled(n model.Notifications) bool { return n.Gotify.Enabled }

func (g *Gotify) Send(ctx context.Context, acct model.Account, msg Message) error {
	cfg := acct.Notifications.Gotify
	if cfg.URL == "" || cfg.AppToken == "" {
		return fmt.Errorf("gotify: %w", ErrMissingCredentials)
	}

	endpoint := fmt.Sprintf("%s/message?token=%s", strings.TrimRight(cfg.URL, "/"), url.QueryEscape(cfg.AppToken))
	payload := map[string]any{
		"title":    notificationTitle,
		"message":  msg.Text,
		"priority": cfg.Priority,
		"extras":   clickExtras(shareURL),
	}
	return postJSON(ctx, g.client, endpoint, payload)
}

// --- Ntfy ---

// Ntfy publishes JSON messages to an ntfy server.
type Ntfy struct {
	client HTTPClient
}

// NewNtfy creates an Ntfy channel.
func NewNtfy(client HTTPClient) *Ntfy {
	return &Ntfy{client: client}
}

func (n *Ntfy) Name() string { return "ntfy" }

func (n *Ntfy) Enabled(cfg model.Notifications) bool { return cfg.Ntfy.Enabled }

func (n *Ntfy) Send(ctx context.Context, acct model.Account, msg Message) error {
	cfg := acct.Notifications.Ntfy
	if cfg.URL == "" {
		return fmt.Errorf("ntfy: %w", ErrMissingCredentials)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "TooGoodToGo-" + acct.ID
	}
	payload := map[string]any{
		"topic":    topic,
		"title":    notificationTitle,
		"message":  msg.Text,
		"priority": cfg.Priority,
		"tags":     []string{"maple_leaf"},
		"click":    itemURL(msg.ItemID),
		"extras":   clickExtras(itemURL(msg.ItemID)),
	}
	return postJSON(ctx, n.client, cfg.URL, payload)
}
