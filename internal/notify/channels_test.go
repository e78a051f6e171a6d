package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeTelegramAPI struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramChannelSend(t *testing.T) {
	api := &fakeTelegramAPI{}
	ch := &TelegramChannel{api: api, chatID: 42}

	err := ch.Send(context.Background(), Notification{
		Kind:  "status_available",
		Title: "Runner Jacket is available",
		Text:  "Sizes: M, L",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "Runner Jacket is available") {
		t.Errorf("text = %q, missing title", msg.Text)
	}
	if !msg.DisableWebPagePreview {
		t.Error("web page preview not disabled")
	}
}

func TestTelegramChannelSendError(t *testing.T) {
	ch := &TelegramChannel{api: &fakeTelegramAPI{err: errors.New("429 too many requests")}, chatID: 42}
	if err := ch.Send(context.Background(), Notification{Title: "x"}); err == nil {
		t.Error("send succeeded, want error")
	}
}

type fakeHTTP struct {
	status  int
	lastReq *http.Request
	body    []byte
	err     error
}

func (f *fakeHTTP) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	if req.Body != nil {
		f.body, _ = io.ReadAll(req.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusNoContent
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}, nil
}

func TestWebhookChannelSend(t *testing.T) {
	client := &fakeHTTP{}
	ch := NewWebhookChannelWithClient("https://discord.example.com/api/webhooks/1/x", client)

	err := ch.Send(context.Background(), Notification{
		Kind:  "status_available",
		Title: "Runner Jacket is available",
		Text:  "Sizes: M, L",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(client.body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !strings.HasPrefix(payload["content"], "**Runner Jacket is available**") {
		t.Errorf("content = %q, want bold title prefix", payload["content"])
	}
	if ct := client.lastReq.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestWebhookChannelTruncatesLongContent(t *testing.T) {
	client := &fakeHTTP{}
	ch := NewWebhookChannelWithClient("https://discord.example.com/api/webhooks/1/x", client)

	err := ch.Send(context.Background(), Notification{
		Title: "Listing changed",
		Text:  strings.Repeat("new item line\n", 500),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(client.body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload["content"]) > webhookContentLimit {
		t.Errorf("content length = %d, want at most %d", len(payload["content"]), webhookContentLimit)
	}
}

func TestWebhookChannelErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeHTTP
	}{
		{name: "transport error", client: &fakeHTTP{err: errors.New("connection refused")}},
		{name: "http 404", client: &fakeHTTP{status: http.StatusNotFound}},
		{name: "http 429", client: &fakeHTTP{status: http.StatusTooManyRequests}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewWebhookChannelWithClient("https://discord.example.com/api/webhooks/1/x", tt.client)
			if err := ch.Send(context.Background(), Notification{Title: "x"}); err == nil {
				t.Error("send succeeded, want error")
			}
		})
	}
}
