package notify

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/config"
)

type stubPresenter struct {
	name string
	err  error

	mu    sync.Mutex
	calls []Notification
}

func (s *stubPresenter) Name() string { return s.name }

func (s *stubPresenter) Present(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	return s.err
}

func (s *stubPresenter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestChainOrder(t *testing.T) {
	tests := []struct {
		name         string
		first        error
		second       error
		wantFirst    int
		wantSecond   int
		wantFallback int
	}{
		{"first succeeds", nil, nil, 1, 0, 0},
		{"first unsupported", ErrUnsupported, nil, 1, 1, 0},
		{"first fails", errors.New("boom"), nil, 1, 1, 0},
		{"all fail", ErrUnsupported, errors.New("boom"), 1, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := &stubPresenter{name: "first", err: tt.first}
			second := &stubPresenter{name: "second", err: tt.second}
			fallback := &stubPresenter{name: "fallback"}

			chain := NewChain(zap.NewNop(), fallback, first, second)
			if err := chain.Present(context.Background(), Notification{ID: "d1", Title: "t"}); err != nil {
				t.Fatalf("Present failed: %v", err)
			}

			if first.count() != tt.wantFirst || second.count() != tt.wantSecond || fallback.count() != tt.wantFallback {
				t.Errorf("calls = %d/%d/%d, want %d/%d/%d",
					first.count(), second.count(), fallback.count(),
					tt.wantFirst, tt.wantSecond, tt.wantFallback)
			}
		})
	}
}

func TestChainFallbackError(t *testing.T) {
	fallback := &stubPresenter{name: "fallback", err: errors.New("disk full")}
	chain := NewChain(zap.NewNop(), fallback)

	err := chain.Present(context.Background(), Notification{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected fallback error, got %v", err)
	}
}

func TestNewBuildsConfiguredChain(t *testing.T) {
	cfg := config.NotifyConfig{Channels: "terminal, log", Urgency: "normal"}
	var buf bytes.Buffer

	chain, err := New(cfg, zap.NewNop(), &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(chain.presenters) != 2 || chain.presenters[0].Name() != "terminal" || chain.presenters[1].Name() != "log" {
		t.Fatalf("unexpected presenters: %v", chain.presenters)
	}

	if err := chain.Present(context.Background(), Notification{Title: "Stretch"}); err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Stretch") {
		t.Errorf("terminal presenter not used: %q", buf.String())
	}

	if _, err := New(config.NotifyConfig{Channels: "carrier-pigeon"}, zap.NewNop(), nil); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestTelegramPresent(t *testing.T) {
	var (
		gotPath string
		gotBody telegramSendRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("123:abc", "42", WithBaseURL(srv.URL+"/"))
	err := tg.Present(context.Background(), Notification{
		Title:  "Pay <rent>",
		Body:   "before 5pm & call landlord",
		Repeat: true,
	})
	if err != nil {
		t.Fatalf("Present failed: %v", err)
	}

	if gotPath != "/bot123:abc/sendMessage" {
		t.Errorf("wrong path: %s", gotPath)
	}
	if gotBody.ChatID != "42" || gotBody.ParseMode != "HTML" {
		t.Errorf("wrong request: %+v", gotBody)
	}
	want := "⏰ <b>Pay &lt;rent&gt;</b> <i>(reminder)</i>\n\nbefore 5pm &amp; call landlord"
	if gotBody.Text != want {
		t.Errorf("text = %q, want %q", gotBody.Text, want)
	}
}

func TestTelegramAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("t", "c", WithBaseURL(srv.URL))
	err := tg.Present(context.Background(), Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected API error, got %v", err)
	}

	if err := NewTelegram("", "").Present(context.Background(), Notification{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported without credentials, got %v", err)
	}
}

func TestTerminalBalloon(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	if err := term.Present(context.Background(), Notification{Title: "Water plants", Body: "the ficus too"}); err != nil {
		t.Fatalf("Present failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Water plants", "the ficus too", "╭", "╯"} {
		if !strings.Contains(out, want) {
			t.Errorf("balloon missing %q:\n%s", want, out)
		}
	}
}

func TestDesktopUnsupported(t *testing.T) {
	d := NewDesktop("app", "normal", zap.NewNop())
	d.goos = "plan9"
	if err := d.Present(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported on unknown OS, got %v", err)
	}

	d.goos = "linux"
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if err := d.Present(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported without notify-send, got %v", err)
	}
}

func TestNotifySendArgs(t *testing.T) {
	args := notifySendArgs("Live Reminder", "critical", Notification{
		Title:      "Standup",
		Body:       "room 4",
		Repeat:     true,
		OnActivate: func() {},
	})
	want := []string{"--app-name", "Live Reminder", "--urgency", "critical",
		"--action", "default=Open", "--wait", "(again) Standup", "room 4"}
	if strings.Join(args, "|") != strings.Join(want, "|") {
		t.Errorf("args = %q, want %q", args, want)
	}

	args = notifySendArgs("a", "low", Notification{Title: "plain"})
	if len(args) != 5 || args[4] != "plain" {
		t.Errorf("unexpected args without activation: %q", args)
	}
}

func TestAppleScriptQuoting(t *testing.T) {
	got := appleScript("App", Notification{Title: `say "hi"`, Body: `back\slash`})
	want := `display notification "back\\slash" with title "App" subtitle "say \"hi\""`
	if got != want {
		t.Errorf("script = %s, want %s", got, want)
	}
}

func TestWebPushPresent(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	wp, err := NewWebPush(testSubscription(t, srv.URL), "critical")
	if err != nil {
		t.Fatalf("NewWebPush failed: %v", err)
	}

	if err := wp.Present(context.Background(), Notification{ID: "d1", Title: "Call", Body: "mom"}); err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	if gotHeaders.Get("Content-Encoding") != "aes128gcm" {
		t.Errorf("payload not encrypted: %v", gotHeaders)
	}
	if gotHeaders.Get("Urgency") != "high" {
		t.Errorf("urgency = %q, want high", gotHeaders.Get("Urgency"))
	}
	if !strings.HasPrefix(gotHeaders.Get("Authorization"), "vapid ") {
		t.Errorf("missing VAPID authorization: %q", gotHeaders.Get("Authorization"))
	}
}

func TestWebPushGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	wp, err := NewWebPush(testSubscription(t, srv.URL), "normal")
	if err != nil {
		t.Fatalf("NewWebPush failed: %v", err)
	}
	if err := wp.Present(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrSubscriptionGone) {
		t.Errorf("expected ErrSubscriptionGone, got %v", err)
	}
}

func testSubscription(t *testing.T, endpoint string) config.WebPushConfig {
	t.Helper()

	vapidPriv, vapidPub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys: %v", err)
	}
	clientKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	auth := make([]byte, 16)
	rand.Read(auth)

	return config.WebPushConfig{
		Endpoint:        endpoint,
		Auth:            base64.RawURLEncoding.EncodeToString(auth),
		P256dh:          base64.RawURLEncoding.EncodeToString(clientKey.PublicKey().Bytes()),
		VAPIDPublicKey:  vapidPub,
		VAPIDPrivateKey: vapidPriv,
		Subscriber:      "test@example.com",
		TTL:             60,
	}
}
