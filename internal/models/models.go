// Package models defines the core data structures for IntakeFlow.
//
// It includes the conversation flow step definitions, the response envelope
// returned by the conversation controller, and the API response helpers
// shared across modules.
package models

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ResponseType tags every controller response with the branch that produced it.
type ResponseType string

const (
	// ResponseTypeStructuredQuestion carries the next flow question.
	ResponseTypeStructuredQuestion ResponseType = "structured_question"
	// ResponseTypeValidationError re-prompts after a rejected answer.
	ResponseTypeValidationError ResponseType = "validation_error"
	// ResponseTypePhoneCollection asks for the WhatsApp number after the flow completes.
	ResponseTypePhoneCollection ResponseType = "phone_collection"
	// ResponseTypePhoneValidationError re-prompts after a rejected phone number.
	ResponseTypePhoneValidationError ResponseType = "phone_validation_error"
	// ResponseTypePhoneCollected confirms an accepted phone number.
	ResponseTypePhoneCollected ResponseType = "phone_collected"
	// ResponseTypeAIIntelligent carries generated assistant text.
	ResponseTypeAIIntelligent ResponseType = "ai_intelligent"
	// ResponseTypeAIFallback is the canned reply when the AI provider is unavailable.
	ResponseTypeAIFallback ResponseType = "ai_fallback"
	// ResponseTypeAIErrorFallback is the minimal reply when the AI handler itself fails.
	ResponseTypeAIErrorFallback ResponseType = "ai_error_fallback"
	// ResponseTypeErrorFallback is the degraded reply for any unclassified failure.
	ResponseTypeErrorFallback ResponseType = "error_fallback"
	// ResponseTypeCompletionError marks a flow completion that could not be persisted.
	ResponseTypeCompletionError ResponseType = "completion_error"
	// ResponseTypePhoneErrorFallback marks a phone collection that failed unexpectedly.
	ResponseTypePhoneErrorFallback ResponseType = "phone_error_fallback"
)

// IntakeResponse is the well-formed result every controller entry point
// returns to its caller. Response is always a non-empty human-readable string.
type IntakeResponse struct {
	Response        string       `json:"response"`
	ResponseType    ResponseType `json:"response_type"`
	SessionID       string       `json:"session_id"`
	CurrentStep     int          `json:"current_step,omitempty"`
	FlowCompleted   bool         `json:"flow_completed"`
	CollectingPhone bool         `json:"collecting_phone,omitempty"`
	PhoneCollected  bool         `json:"phone_collected,omitempty"`
	AIMode          bool         `json:"ai_mode"`
	PhoneNumber     string       `json:"phone_number,omitempty"`
	LeadID          string       `json:"lead_id,omitempty"`
	AIAvailable     bool         `json:"gemini_available"`
	Error           string       `json:"error,omitempty"`
}

// Error variables shared across modules for error handling and testability.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStepNotFound    = errors.New("flow step not found")
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrInvalidPhone    = errors.New("invalid phone number")
)

// Validation constants applied across all flow steps.
const (
	// MinAnswerLength is the global minimum trimmed character count for any answer.
	MinAnswerLength = 2
)

// StepValidation is the declarative validation rule attached to a flow step.
// A zero value accepts anything that passes the global minimum length rule.
type StepValidation struct {
	MinLength int `json:"min_length,omitempty"` // minimum trimmed character count
	MinTokens int `json:"min_tokens,omitempty"` // minimum whitespace-separated tokens
}

// Accepts reports whether answer satisfies the rule. The global
// MinAnswerLength floor applies before any per-step requirement. Lengths
// count characters, not bytes, so accented Portuguese input measures the
// same as unaccented.
func (v StepValidation) Accepts(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	chars := utf8.RuneCountInString(trimmed)
	if chars < MinAnswerLength {
		return false
	}
	if v.MinLength > 0 && chars < v.MinLength {
		return false
	}
	if v.MinTokens > 0 && len(strings.Fields(answer)) < v.MinTokens {
		return false
	}
	return true
}

// FlowStep is one entry in the ordered intake flow definition. Ids are
// 1-based and contiguous.
type FlowStep struct {
	ID         int            `json:"id"`
	Field      string         `json:"field"`
	Question   string         `json:"question"`
	Validation StepValidation `json:"validation"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for HTTP endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
