package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	r.titles = append(r.titles, title)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventOrderFilled, " "}, discard())

	require.NoError(t, n.Notify(context.Background(), EventOrderFilled, "filled", ""))
	require.NoError(t, n.Notify(context.Background(), EventFeedDegraded, "degraded", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "startup", ""))

	assert.Equal(t, []string{"filled", "startup"}, rec.titles)
	assert.True(t, n.Enabled(EventOrderFilled))
	assert.False(t, n.Enabled(EventRiskLimit))
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, discard())
	for _, ev := range AllEvents {
		require.NoError(t, n.Notify(context.Background(), ev, ev, ""))
	}
	assert.Len(t, rec.titles, len(AllEvents))
}

func TestNotifyContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestNilNotifierDrops(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), EventRiskLimit, "t", "m"))
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
	assert.False(t, n.Enabled(EventRiskLimit))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Feed degraded", "BTC_USDT synthetic"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Feed degraded*\nBTC_USDT synthetic", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400")
}
