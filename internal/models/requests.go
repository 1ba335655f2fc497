package models

import (
	"errors"
	"strings"
)

// ChatMessageRequest is the payload for POST /chat/message.
type ChatMessageRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Validate checks that the request carries a message. A missing session_id
// is allowed; the server generates one.
func (r ChatMessageRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// PhoneSubmissionRequest is the payload for POST /chat/phone, the web-form
// alternative to conversational phone collection.
type PhoneSubmissionRequest struct {
	PhoneNumber string `json:"phone_number"`
	SessionID   string `json:"session_id"`
}

// Validate checks that both fields are present.
func (r PhoneSubmissionRequest) Validate() error {
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return errors.New("phone_number is required")
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return errors.New("session_id is required")
	}
	return nil
}

// WhatsAppAuthorizationRequest is the payload for POST /whatsapp/authorize,
// emitted when a visitor clicks the WhatsApp contact button.
type WhatsAppAuthorizationRequest struct {
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number"`
	Source      string `json:"source,omitempty"`
}

// Validate checks that the session identity and phone number are present.
func (r WhatsAppAuthorizationRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return errors.New("session_id is required")
	}
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return errors.New("phone_number is required")
	}
	return nil
}

// WebhookMessageRequest is the inbound payload for POST /whatsapp/webhook.
// Field names follow the Baileys bridge convention (camelCase).
type WebhookMessageRequest struct {
	Message   string `json:"message"`
	From      string `json:"from"`
	MessageID string `json:"messageId"`
	SessionID string `json:"sessionId,omitempty"`
}

// Validate checks the fields the bridge always sets on a text message.
func (r WebhookMessageRequest) Validate() error {
	if r.Message == "" || r.From == "" || r.MessageID == "" {
		return errors.New("invalid payload: message, from and messageId are required")
	}
	return nil
}

// SendMessageRequest is the payload for POST /whatsapp/send, the manual
// outbound send endpoint.
type SendMessageRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

// Validate checks that both fields are present.
func (r SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return errors.New("phone_number is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}
