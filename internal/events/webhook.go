package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aocr/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts events to one configured endpoint.
type Webhook struct {
	hook   config.WebhookConfig
	client *http.Client
}

func NewWebhook(hook config.WebhookConfig, client *http.Client) *Webhook {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Webhook{hook: hook, client: client}
}

// Enabled reports whether the hook should be subscribed.
func (w *Webhook) Enabled() bool {
	if w.hook.Enabled != nil && !*w.hook.Enabled {
		return false
	}
	return strings.TrimSpace(w.hook.URL) != ""
}

// Types returns the event types the hook listens to; empty means all.
func (w *Webhook) Types() []Type {
	var types []Type
	for _, t := range w.hook.Events {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, Type(t))
		}
	}
	return types
}

func (w *Webhook) Name() string {
	return "webhook:" + w.hook.URL
}

func (w *Webhook) Handle(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AOCR-Event", string(evt.Type))
	req.Header.Set("X-AOCR-Delivery", evt.ID)
	req.Header.Set("X-AOCR-Request", strconv.FormatInt(evt.RequestID, 10))
	if strings.TrimSpace(w.hook.Secret) != "" {
		req.Header.Set("X-AOCR-Secret", w.hook.Secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// SubscribeWebhooks registers every enabled hook from cfg on the bus.
func SubscribeWebhooks(b *Bus, hooks []config.WebhookConfig) int {
	n := 0
	for _, hook := range hooks {
		w := NewWebhook(hook, nil)
		if !w.Enabled() {
			continue
		}
		b.Subscribe(w.Name(), w.Handle, w.Types()...)
		n++
	}
	return n
}
