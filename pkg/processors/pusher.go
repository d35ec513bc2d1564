package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookPusher delivers notifications by POSTing them to the push gateway
// webhook. The gateway owns device tokens and platform-specific delivery.
type WebhookPusher struct {
	Log    *zap.Logger
	Client *http.Client
	URL    string
}

type webhookPush struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Badge  int64  `json:"badge"`
}

// Push implements Pusher.
func (p *WebhookPusher) Push(ctx context.Context, userID, title, body string, badge int64) error {
	buf, err := json.Marshal(webhookPush{UserID: userID, Title: title, Body: body, Badge: badge})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("push gateway returned status %d", res.StatusCode)
	}
	return nil
}

// NopPusher drops notifications, keeping the badge counters running.
// Used when no push gateway is configured.
type NopPusher struct {
	Log *zap.Logger
}

// Push implements Pusher.
func (p *NopPusher) Push(ctx context.Context, userID, title, body string, badge int64) error {
	p.Log.Debug("Dropping notification, no push gateway configured",
		zap.String("user_id", userID))
	return nil
}
