package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lexbr/intakeflow/internal/models"
	"github.com/lexbr/intakeflow/internal/twiliowhatsapp"
	"github.com/lexbr/intakeflow/internal/whatsapp"
)

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999998888", "5511999998888", false},
		{"5511999998888@s.whatsapp.net", "5511999998888", false},
		{"+55 (11) 99999-8888", "5511999998888", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, c := range cases {
		got, err := canonicalizePhone(c.in)
		if c.wantErr != (err != nil) {
			t.Errorf("canonicalizePhone(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if got != c.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWhatsAppServiceSendMessage(t *testing.T) {
	client := whatsapp.NewMockClient()
	s := NewWhatsAppService(client)

	err := s.SendMessage(context.Background(), "5511999998888@s.whatsapp.net", "olá")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.Sent()) != 1 || client.Sent()[0].To != "5511999998888" {
		t.Errorf("recipient not canonicalized before send: %+v", client.Sent())
	}

	select {
	case receipt := <-s.Receipts():
		if receipt.To != "5511999998888" || receipt.Status != models.StatusTypeSent {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Error("no sent receipt emitted")
	}
}

func TestWhatsAppServiceRejectsInvalidRecipient(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())
	if err := s.SendMessage(context.Background(), "not a number", "olá"); err == nil {
		t.Error("expected error for digitless recipient")
	}
}

func TestTwilioServiceSendMessage(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	s := NewTwilioService(client)

	if err := s.SendMessage(context.Background(), "5511999998888", "olá"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.SentMessages) != 1 || client.SentMessages[0].To != "+5511999998888" {
		t.Errorf("Twilio recipient should carry the plus prefix: %+v", client.SentMessages)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendMessage(context.Background(), "5511999998888", "olá"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped after Stop, got %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+5511999998888")
	form.Set("Body", "Maria Silva")
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	s.WebhookHandler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	select {
	case msg := <-s.Responses():
		if msg.From != "5511999998888" {
			t.Errorf("From should be bare digits, got %q", msg.From)
		}
		if msg.Body != "Maria Silva" {
			t.Errorf("Body = %q", msg.Body)
		}
	case <-time.After(time.Second):
		t.Error("inbound message not emitted")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+5511999998888")
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	s.WebhookHandler(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// mockProcessor echoes the inbound body back as a structured question.
type mockProcessor struct {
	calls []string
}

func (m *mockProcessor) ProcessMessage(ctx context.Context, message, sessionID, phoneNumber string, platform models.Platform) models.IntakeResponse {
	m.calls = append(m.calls, sessionID)
	return models.IntakeResponse{
		Response:     "Qual é o seu nome completo?",
		ResponseType: models.ResponseTypeStructuredQuestion,
		SessionID:    sessionID,
	}
}

func TestResponderRepliesToInbound(t *testing.T) {
	client := whatsapp.NewMockClient()
	s := NewWhatsAppService(client)
	processor := &mockProcessor{}
	r := NewResponder(s, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	s.responses <- models.InboundMessage{From: "5511999998888", Body: "olá", Time: time.Now().Unix()}

	deadline := time.After(2 * time.Second)
	for len(client.Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("responder never delivered a reply")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if processor.calls[0] != "whatsapp_5511999998888" {
		t.Errorf("session id should be derived from the sender digits, got %q", processor.calls[0])
	}
	if client.Sent()[0].Body != "Qual é o seu nome completo?" {
		t.Errorf("reply body = %q", client.Sent()[0].Body)
	}
}
