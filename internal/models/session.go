// Package models defines session and lead structures shared across IntakeFlow modules.
package models

import (
	"strconv"
	"time"
)

// Platform identifies the channel a conversation arrived on.
type Platform string

const (
	// PlatformWeb is the web chat widget.
	PlatformWeb Platform = "web"
	// PlatformWhatsApp is the WhatsApp channel.
	PlatformWhatsApp Platform = "whatsapp"
)

// SessionMode is the derived conversation mode used for dispatch.
// The boolean flags on Session remain the persisted representation; Mode
// collapses them into the three legal states so handlers cannot observe an
// inconsistent flag combination.
type SessionMode string

const (
	// ModeStructured means the session is progressing through the question flow.
	ModeStructured SessionMode = "structured"
	// ModeCollectingPhone means the flow finished and we are waiting for a phone number.
	ModeCollectingPhone SessionMode = "collecting_phone"
	// ModeAI means phone collection finished and the AI assistant handles messages.
	ModeAI SessionMode = "ai"
)

// Session tracks one conversation identity (web session id or WhatsApp
// phone-derived id) across messages.
type Session struct {
	SessionID       string            `json:"session_id"`
	Platform        Platform          `json:"platform"`
	CurrentStep     int               `json:"current_step"`
	FlowCompleted   bool              `json:"flow_completed"`
	CollectingPhone bool              `json:"collecting_phone"`
	PhoneCollected  bool              `json:"phone_collected"`
	AIMode          bool              `json:"ai_mode"`
	LeadData        map[string]string `json:"lead_data"`
	MessageCount    int               `json:"message_count"`
	PhoneNumber     string            `json:"phone_number,omitempty"`
	PhoneFormatted  string            `json:"phone_formatted,omitempty"`
	LeadID          string            `json:"lead_id,omitempty"`
	Source          string            `json:"source,omitempty"`
	AuthorizedAt    *time.Time        `json:"authorized_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastUpdated     time.Time         `json:"last_updated"`
}

// NewSession creates a fresh session at step 1 with all mode flags cleared.
func NewSession(sessionID string, platform Platform) *Session {
	now := time.Now()
	return &Session{
		SessionID:   sessionID,
		Platform:    platform,
		CurrentStep: 1,
		LeadData:    make(map[string]string),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Mode derives the dispatch mode from the session flags, checked in the
// precedence order the controller requires: phone collection wins over AI
// mode, and everything else is the structured flow.
func (s *Session) Mode() SessionMode {
	if s.CollectingPhone {
		return ModeCollectingPhone
	}
	if s.FlowCompleted && s.PhoneCollected {
		return ModeAI
	}
	return ModeStructured
}

// Touch increments the message counter and refreshes the update timestamp.
// It runs on every inbound message, including the greeting.
func (s *Session) Touch() {
	s.MessageCount++
	s.LastUpdated = time.Now()
}

// StepField returns the lead data key for a step id ("step_<n>").
func StepField(step int) string {
	return "step_" + strconv.Itoa(step)
}

// NotInformed is the sentinel stored for lead fields the user never answered.
const NotInformed = "Não informado"

// LeadStatusIntakeCompleted is the status every lead carries at creation.
const LeadStatusIntakeCompleted = "intake_completed"

// Lead is the record persisted once per completed intake. Immutable after
// creation as far as the conversation controller is concerned.
type Lead struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	AreaOfLaw    string    `json:"area_of_law"`
	Situation    string    `json:"situation"`
	WantsMeeting string    `json:"wants_meeting"`
	SessionID    string    `json:"session_id"`
	Platform     Platform  `json:"platform"`
	CompletedAt  time.Time `json:"completed_at"`
	Status       string    `json:"status"`
}

// LeadFromSession builds a Lead from the session's collected answers,
// defaulting missing fields to the NotInformed sentinel.
func LeadFromSession(s *Session) Lead {
	field := func(step int) string {
		if v, ok := s.LeadData[StepField(step)]; ok && v != "" {
			return v
		}
		return NotInformed
	}
	return Lead{
		Name:         field(1),
		AreaOfLaw:    field(2),
		Situation:    field(3),
		WantsMeeting: field(4),
		SessionID:    s.SessionID,
		Platform:     s.Platform,
		CompletedAt:  time.Now(),
		Status:       LeadStatusIntakeCompleted,
	}
}
