package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"playline/internal/config"
	"playline/internal/domain"
	"playline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts session events of one tenant to the webhooks
// configured in its playline.yml. Each hook keeps its own cursor and starts
// at the newest event, so history is never replayed.
type WebhookDispatcher struct {
	Engine   engine.Engine
	TenantID string
	Webhooks []config.WebhookConfig
	Interval time.Duration
	Logger   *log.Logger

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
}

// NewWebhookDispatcher returns nil when the engine config has no webhooks.
func NewWebhookDispatcher(e engine.Engine) *WebhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	tenantID := strings.TrimSpace(e.Config.Tenant.ID)
	if tenantID == "" {
		return nil
	}
	return &WebhookDispatcher{
		Engine:   e,
		TenantID: tenantID,
		Webhooks: e.Config.Webhooks,
		Interval: defaultWebhookInterval,
		Logger:   e.Logger,
	}
}

func (d *WebhookDispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// Run delivers events until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery round over every enabled hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.Engine.Repo.EventsAfterForTenant(ctx, d.TenantID, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger().Printf("webhook: fetch.fail tenant=%s: %v", d.TenantID, err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.logger().Printf("webhook: deliver.fail url=%s event=%d: %v", hook.URL, evt.ID, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Engine.Repo.MaxEventID(ctx)
	if err != nil {
		d.logger().Printf("webhook: cursor.fail: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	TenantID  string         `json:"tenant_id"`
	SessionID string         `json:"session_id"`
	ActorType string         `json:"actor_type,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	TS        string         `json:"ts"`
	Payload   map[string]any `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.SessionEvent) error {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(webhookEvent{
		ID:        evt.ID,
		Type:      evt.Type,
		TenantID:  d.TenantID,
		SessionID: evt.SessionID,
		ActorType: evt.ActorType,
		ActorID:   evt.ActorID,
		TS:        evt.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSec > 0 {
		timeout = time.Duration(hook.TimeoutSec) * time.Second
	}
	if d.client == nil || d.client.Timeout != timeout {
		d.client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Playline-Event", evt.Type)
	req.Header.Set("X-Playline-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Playline-Tenant", d.TenantID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Playline-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
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

func newEventFilter(evts []string) eventFilter {
	set := make(map[string]struct{}, len(evts))
	for _, evt := range evts {
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
