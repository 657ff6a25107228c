package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podmesh/config"
	"podmesh/schema"
)

type countingNotifier struct {
	mu    sync.Mutex
	sent  []schema.Event
	fails bool
}

func (c *countingNotifier) Name() string { return "counting" }

func (c *countingNotifier) Send(ctx context.Context, e schema.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, e)
	if c.fails {
		return errors.New("boom")
	}
	return nil
}

func TestServiceFansOutToAllNotifiers(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{fails: true}
	svc := NewService(a, b)
	require.True(t, svc.Enabled())

	svc.Send(schema.NewRiskEvent("", schema.SeverityCritical, "Authentication failed"))
	svc.Wait()

	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
}

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL
	wn, err := NewWebhookNotifier(cfg)
	require.NoError(t, err)

	ev := schema.ModeChangeEvent{PodID: "spec", From: schema.ModeNormal, To: schema.ModeCrash, Timestamp: time.Now()}
	require.NoError(t, wn.Send(context.Background(), ev))
	assert.Equal(t, "ModeChangeEvent", got["kind"])
	assert.Equal(t, "spec", got["pod_id"])
	assert.Equal(t, "进入 CRASH 模式", got["title"])
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Webhook.URL = srv.URL
	wn, err := NewWebhookNotifier(cfg)
	require.NoError(t, err)
	assert.Error(t, wn.Send(context.Background(), schema.NewRiskEvent("", schema.SeverityCritical, "x")))
}

func TestTelegramNotifierMessage(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Telegram.BotToken = "TOKEN"
	cfg.Notifications.Telegram.ChatID = "42"
	tn, err := NewTelegramNotifier(cfg)
	require.NoError(t, err)
	tn.apiBase = srv.URL

	require.NoError(t, tn.Send(context.Background(), schema.NewRiskEvent("core", schema.SeverityCritical, "Reconciliation failed")))
	assert.Equal(t, "42", body["chat_id"])
	assert.Contains(t, body["text"], "严重风险")
	assert.Contains(t, body["text"], "Reconciliation failed")
	assert.Contains(t, body["text"], "范围: core")
}

func TestNewNotificationServiceDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Notifications.Webhook.Enabled = true
	cfg.Notifications.Webhook.URL = "http://localhost"
	assert.False(t, NewNotificationService(cfg).Enabled())
}
