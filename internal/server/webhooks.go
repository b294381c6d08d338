package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func newWebhookDispatcher(e engine.Engine) *webhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	return &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
}

// StartWebhooks delivers new activities to configured webhooks until ctx is
// done. Delivery starts from the newest activity at startup.
func StartWebhooks(ctx context.Context, e engine.Engine) {
	d := newWebhookDispatcher(e)
	if d == nil {
		return
	}
	go d.run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	activities, err := d.engine.Repo.ListActivitiesAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.engine.Log.Error("webhook fetch failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, a := range activities {
		if !filter.match(a.ActivityType) {
			d.setCursor(idx, a.ID)
			continue
		}
		if err := d.post(ctx, hook, a); err != nil {
			d.engine.Log.Warn("webhook delivery failed", "url", hook.URL, "activity_id", a.ID, "error", err)
			return
		}
		d.setCursor(idx, a.ID)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestActivityID(ctx)
	if err != nil {
		d.engine.Log.Error("webhook cursor init failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookDelivery struct {
	ID           int64           `json:"id"`
	CaseID       string          `json:"case_id"`
	ActivityType string          `json:"activity_type"`
	Actor        string          `json:"actor"`
	Summary      string          `json:"summary"`
	CreatedAt    string          `json:"created_at"`
	Details      json.RawMessage `json:"details"`
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, a domain.Activity) error {
	details := a.Details
	if len(details) == 0 || !json.Valid(details) {
		details = json.RawMessage(`{}`)
	}
	data, err := json.Marshal(webhookDelivery{
		ID:           a.ID,
		CaseID:       a.CaseID,
		ActivityType: a.ActivityType,
		Actor:        a.Actor,
		Summary:      a.Summary(),
		CreatedAt:    a.CreatedAt,
		Details:      details,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseline-Event", a.ActivityType)
	req.Header.Set("X-Caseline-Delivery", fmt.Sprintf("%d", a.ID))
	req.Header.Set("X-Caseline-Case", a.CaseID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Caseline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
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

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
