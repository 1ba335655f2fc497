package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexbr/intakeflow/internal/genai"
	"github.com/lexbr/intakeflow/internal/models"
	"github.com/lexbr/intakeflow/internal/store"
)

// User-facing messages, in the order the conversation reaches them.
const (
	msgPhoneRequest    = "Perfeito! Suas informações foram registradas. Agora, para finalizar, me informe seu número de WhatsApp com DDD (ex: 11999999999):"
	msgPhoneInvalid    = "Número inválido. Por favor, digite seu WhatsApp com DDD (ex: 11999999999):"
	msgPhoneError      = "Erro ao processar seu número. Vamos continuar! Como posso ajudá-lo?"
	msgCompletionError = "Obrigado pelas informações! Como posso continuar ajudando?"
	msgErrorFallback   = "Desculpe, ocorreu um erro. Como posso ajudá-lo?"
	msgAIFallback      = "Obrigado pela sua mensagem! Nossa equipe já tem suas informações e entrará em contato em breve para dar continuidade ao seu caso."
	msgAIErrorFallback = "Como posso ajudá-lo?"

	msgWhatsAppWelcome = "👋 Olá! Bem-vindo ao nosso escritório de advocacia.\n\nVou fazer algumas perguntas para entender melhor seu caso e conectá-lo com nossos advogados especializados.\n\nPara começar, qual é o seu nome completo?"
)

// greetings are the step-1 messages treated as conversation openers rather
// than answers to the first question.
var greetings = map[string]bool{
	"olá":                true,
	"oi":                 true,
	"hello":              true,
	"hi":                 true,
	"start_conversation": true,
}

// situationPreviewLen bounds the situation excerpt included in confirmation
// and notification messages.
const situationPreviewLen = 100

// Messenger sends a WhatsApp message to a recipient JID. Implemented by the
// messaging services; nil disables outbound confirmations.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
}

// LeadNotification carries the fields the legal team receives about a new lead.
type LeadNotification struct {
	Name      string
	Phone     string
	Category  string
	Situation string
	Platform  models.Platform
	SessionID string
}

// LawyerNotifier broadcasts a new lead to the configured legal team.
type LawyerNotifier interface {
	NotifyNewLead(ctx context.Context, n LeadNotification) error
}

// Opts holds configuration options for the orchestrator.
type Opts struct {
	Definition DefinitionProvider
	AI         genai.ClientInterface
	Breaker    *Breaker
	Messenger  Messenger
	Notifier   LawyerNotifier
}

// Option defines a configuration option for the orchestrator.
type Option func(*Opts)

// WithDefinition overrides the default intake flow definition.
func WithDefinition(d DefinitionProvider) Option {
	return func(o *Opts) { o.Definition = d }
}

// WithAIClient sets the GenAI backend for the post-intake conversation.
func WithAIClient(c genai.ClientInterface) Option {
	return func(o *Opts) { o.AI = c }
}

// WithBreaker overrides the default AI availability breaker.
func WithBreaker(b *Breaker) Option {
	return func(o *Opts) { o.Breaker = b }
}

// WithMessenger sets the WhatsApp sender used for confirmations and welcomes.
func WithMessenger(m Messenger) Option {
	return func(o *Opts) { o.Messenger = m }
}

// WithLawyerNotifier sets the new-lead notification service.
func WithLawyerNotifier(n LawyerNotifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// Orchestrator is the unified conversation controller for web and WhatsApp.
// It drives the structured intake flow, phone collection, and the AI
// conversation mode, persisting session state before every user-visible
// progress response.
type Orchestrator struct {
	store      store.Store
	definition DefinitionProvider
	ai         genai.ClientInterface
	breaker    *Breaker
	messenger  Messenger
	notifier   LawyerNotifier
}

// NewOrchestrator creates a conversation controller over the given store.
// Without options it runs the default flow with no AI backend and no
// outbound messaging.
func NewOrchestrator(st store.Store, opts ...Option) *Orchestrator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Definition == nil {
		cfg.Definition = DefaultDefinition()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(DefaultBreakerCooldown)
	}
	return &Orchestrator{
		store:      st,
		definition: cfg.Definition,
		ai:         cfg.AI,
		breaker:    cfg.Breaker,
		messenger:  cfg.Messenger,
		notifier:   cfg.Notifier,
	}
}

// ProcessMessage is the main entry point for inbound messages from both
// platforms. It never returns an error: any unclassified failure degrades to
// the error fallback response so the user always gets a reply.
func (o *Orchestrator) ProcessMessage(ctx context.Context, message, sessionID, phoneNumber string, platform models.Platform) models.IntakeResponse {
	slog.Info("Processing message", "platform", platform, "sessionID", sessionID, "chars", len(message))
	resp, err := o.processMessage(ctx, message, sessionID, phoneNumber, platform)
	if err != nil {
		slog.Error("Orchestration failed", "error", err, "sessionID", sessionID)
		return models.IntakeResponse{
			Response:     msgErrorFallback,
			ResponseType: models.ResponseTypeErrorFallback,
			SessionID:    sessionID,
			Error:        err.Error(),
		}
	}
	return resp
}

func (o *Orchestrator) processMessage(ctx context.Context, message, sessionID, phoneNumber string, platform models.Platform) (models.IntakeResponse, error) {
	sess, err := o.getOrCreateSession(sessionID, platform, phoneNumber)
	if err != nil {
		return models.IntakeResponse{}, err
	}
	slog.Debug("Session loaded", "sessionID", sessionID, "step", sess.CurrentStep,
		"flowCompleted", sess.FlowCompleted, "collectingPhone", sess.CollectingPhone)

	switch sess.Mode() {
	case models.ModeCollectingPhone:
		return o.handlePhoneCollection(ctx, sess, message)
	case models.ModeAI:
		return o.handleAIConversation(ctx, sess, message)
	default:
		return o.handleStructuredFlow(ctx, sess, message)
	}
}

// getOrCreateSession loads the session or creates and persists a fresh one.
// The message counter is bumped on every call; the bump is persisted by
// whichever handler saves next.
func (o *Orchestrator) getOrCreateSession(sessionID string, platform models.Platform, phoneNumber string) (*models.Session, error) {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		slog.Info("Creating new session", "sessionID", sessionID, "platform", platform)
		sess = models.NewSession(sessionID, platform)
		if phoneNumber != "" {
			sess.PhoneNumber = phoneNumber
		}
		if err := o.store.SaveSession(sess); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}
	sess.Touch()
	return sess, nil
}

// handleStructuredFlow drives the fixed question sequence.
func (o *Orchestrator) handleStructuredFlow(ctx context.Context, sess *models.Session, message string) (models.IntakeResponse, error) {
	step, err := o.definition.Step(sess.CurrentStep)
	if err != nil {
		// A step id past the definition means every question was asked.
		slog.Warn("Current step not in definition, completing flow", "sessionID", sess.SessionID, "step", sess.CurrentStep)
		return o.completeFlowAndCollectPhone(ctx, sess), nil
	}

	// Conversation openers at step 1 re-issue the first question instead of
	// being treated as the name answer.
	if sess.CurrentStep == 1 && greetings[strings.ToLower(strings.TrimSpace(message))] {
		slog.Debug("Greeting detected, returning first question", "sessionID", sess.SessionID)
		return o.questionResponse(sess, step), nil
	}

	// If this step already has an answer the message is a duplicate
	// (webhook retry or double submit): advance without re-storing.
	field := models.StepField(step.ID)
	if _, answered := sess.LeadData[field]; answered {
		slog.Info("Step already answered, advancing", "sessionID", sess.SessionID, "step", step.ID)
		next, err := o.definition.Step(step.ID + 1)
		if err != nil {
			return o.completeFlowAndCollectPhone(ctx, sess), nil
		}
		sess.CurrentStep = next.ID
		if err := o.store.SaveSession(sess); err != nil {
			return models.IntakeResponse{}, fmt.Errorf("failed to save session: %w", err)
		}
		return o.questionResponse(sess, next), nil
	}

	if !step.Validation.Accepts(message) {
		slog.Warn("Answer rejected by validation", "sessionID", sess.SessionID, "step", step.ID, "chars", len(strings.TrimSpace(message)))
		return models.IntakeResponse{
			Response:     "Por favor, forneça uma resposta mais completa. " + step.Question,
			ResponseType: models.ResponseTypeValidationError,
			SessionID:    sess.SessionID,
			CurrentStep:  sess.CurrentStep,
		}, nil
	}

	sess.LeadData[field] = strings.TrimSpace(message)
	slog.Debug("Answer stored", "sessionID", sess.SessionID, "step", step.ID)

	next, err := o.definition.Step(step.ID + 1)
	if err != nil {
		// Last answer recorded: persist it, then complete.
		if err := o.store.SaveSession(sess); err != nil {
			return models.IntakeResponse{}, fmt.Errorf("failed to save session: %w", err)
		}
		return o.completeFlowAndCollectPhone(ctx, sess), nil
	}

	sess.CurrentStep = next.ID
	if err := o.store.SaveSession(sess); err != nil {
		return models.IntakeResponse{}, fmt.Errorf("failed to save session: %w", err)
	}
	slog.Info("Advanced to next step", "sessionID", sess.SessionID, "step", next.ID)
	return o.questionResponse(sess, next), nil
}

func (o *Orchestrator) questionResponse(sess *models.Session, step models.FlowStep) models.IntakeResponse {
	return models.IntakeResponse{
		Response:     step.Question,
		ResponseType: models.ResponseTypeStructuredQuestion,
		SessionID:    sess.SessionID,
		CurrentStep:  step.ID,
	}
}

// completeFlowAndCollectPhone persists the lead and switches the session to
// phone collection. Persistence failures degrade to the completion-error
// response with the session left in AI mode so the conversation survives.
func (o *Orchestrator) completeFlowAndCollectPhone(ctx context.Context, sess *models.Session) models.IntakeResponse {
	sess.FlowCompleted = true
	sess.CollectingPhone = true

	lead := models.LeadFromSession(sess)
	leadID, err := o.store.SaveLead(lead)
	if err != nil {
		slog.Error("Failed to persist lead at flow completion", "error", err, "sessionID", sess.SessionID)
		return o.completionErrorResponse(sess)
	}
	sess.LeadID = leadID

	if err := o.store.SaveSession(sess); err != nil {
		slog.Error("Failed to save session at flow completion", "error", err, "sessionID", sess.SessionID)
		return o.completionErrorResponse(sess)
	}

	slog.Info("Flow completed, collecting phone", "sessionID", sess.SessionID, "leadID", leadID)
	return models.IntakeResponse{
		Response:        msgPhoneRequest,
		ResponseType:    models.ResponseTypePhoneCollection,
		SessionID:       sess.SessionID,
		FlowCompleted:   true,
		CollectingPhone: true,
		LeadID:          leadID,
	}
}

func (o *Orchestrator) completionErrorResponse(sess *models.Session) models.IntakeResponse {
	return models.IntakeResponse{
		Response:      msgCompletionError,
		ResponseType:  models.ResponseTypeCompletionError,
		SessionID:     sess.SessionID,
		FlowCompleted: true,
		AIMode:        true,
	}
}

// handlePhoneCollection validates and records the WhatsApp number, then fires
// the confirmation and lawyer notifications.
func (o *Orchestrator) handlePhoneCollection(ctx context.Context, sess *models.Session, message string) (models.IntakeResponse, error) {
	digits, formatted, err := NormalizePhone(message)
	if err != nil {
		slog.Warn("Phone rejected", "sessionID", sess.SessionID, "error", err)
		return models.IntakeResponse{
			Response:        msgPhoneInvalid,
			ResponseType:    models.ResponseTypePhoneValidationError,
			SessionID:       sess.SessionID,
			FlowCompleted:   true,
			CollectingPhone: true,
		}, nil
	}

	sess.PhoneCollected = true
	sess.CollectingPhone = false
	sess.AIMode = true
	sess.PhoneNumber = digits
	sess.PhoneFormatted = formatted

	if err := o.store.SaveSession(sess); err != nil {
		slog.Error("Failed to save session after phone collection", "error", err, "sessionID", sess.SessionID)
		return models.IntakeResponse{
			Response:      msgPhoneError,
			ResponseType:  models.ResponseTypePhoneErrorFallback,
			SessionID:     sess.SessionID,
			FlowCompleted: true,
			AIMode:        true,
		}, nil
	}

	o.sendConfirmationAndNotify(ctx, sess)

	slog.Info("Phone collected", "sessionID", sess.SessionID, "phone", digits)
	return models.IntakeResponse{
		Response: fmt.Sprintf("✅ Número confirmado: %s\n\n"+
			"Suas informações foram registradas com sucesso! Nossa equipe entrará em contato em breve.\n\n"+
			"Agora você pode continuar conversando comigo sobre questões jurídicas.", digits),
		ResponseType:   models.ResponseTypePhoneCollected,
		SessionID:      sess.SessionID,
		FlowCompleted:  true,
		PhoneCollected: true,
		AIMode:         true,
		PhoneNumber:    digits,
	}, nil
}

// sendConfirmationAndNotify sends the WhatsApp confirmation to the user and
// notifies the legal team. Each delivery is fault-isolated: a failure is
// logged and never surfaces to the conversation.
func (o *Orchestrator) sendConfirmationAndNotify(ctx context.Context, sess *models.Session) {
	name := leadField(sess, 1, "Cliente")
	area := leadField(sess, 2, models.NotInformed)
	situation := leadField(sess, 3, models.NotInformed)

	if o.messenger != nil {
		body := fmt.Sprintf("Olá %s! 👋\n\n"+
			"Recebemos suas informações e nossa equipe jurídica especializada vai entrar em contato em breve.\n\n"+
			"📋 Resumo do seu caso:\n• Área: %s\n• Situação: %s\n\n"+
			"Obrigado por escolher nossos serviços! 🤝", name, area, truncate(situation, situationPreviewLen))
		if err := o.messenger.SendMessage(ctx, sess.PhoneFormatted+"@s.whatsapp.net", body); err != nil {
			slog.Error("Failed to send user confirmation", "error", err, "phone", sess.PhoneFormatted)
		} else {
			slog.Info("Confirmation sent to user", "phone", sess.PhoneFormatted)
		}
	}

	if o.notifier != nil {
		n := LeadNotification{
			Name:      name,
			Phone:     sess.PhoneNumber,
			Category:  area,
			Situation: situation,
			Platform:  sess.Platform,
			SessionID: sess.SessionID,
		}
		if err := o.notifier.NotifyNewLead(ctx, n); err != nil {
			slog.Error("Failed to notify lawyers", "error", err, "sessionID", sess.SessionID)
		} else {
			slog.Info("Lawyers notified", "lead", name)
		}
	}
}

// handleAIConversation answers post-intake messages via the AI backend,
// falling back to the canned reply when the provider is absent, suppressed,
// or failing.
func (o *Orchestrator) handleAIConversation(ctx context.Context, sess *models.Session, message string) (models.IntakeResponse, error) {
	if o.ai != nil && !o.breaker.Unavailable() {
		sessionCtx := map[string]string{
			"name":        sess.LeadData[models.StepField(1)],
			"area_of_law": sess.LeadData[models.StepField(2)],
			"situation":   sess.LeadData[models.StepField(3)],
			"platform":    string(sess.Platform),
		}
		reply, err := o.ai.Generate(ctx, message, sess.SessionID, sessionCtx)
		if err == nil {
			if err := o.store.SaveSession(sess); err != nil {
				slog.Error("Failed to save session after AI reply", "error", err, "sessionID", sess.SessionID)
				return models.IntakeResponse{
					Response:     msgAIErrorFallback,
					ResponseType: models.ResponseTypeAIErrorFallback,
					SessionID:    sess.SessionID,
					AIMode:       true,
				}, nil
			}
			return models.IntakeResponse{
				Response:       reply,
				ResponseType:   models.ResponseTypeAIIntelligent,
				SessionID:      sess.SessionID,
				FlowCompleted:  true,
				PhoneCollected: true,
				AIMode:         true,
				AIAvailable:    true,
			}, nil
		}
		if IsQuotaError(err) {
			o.breaker.Trip()
			slog.Warn("AI quota exceeded, using fallback", "sessionID", sess.SessionID)
		} else {
			slog.Error("AI generation failed", "error", err, "sessionID", sess.SessionID)
		}
	}

	return models.IntakeResponse{
		Response:       msgAIFallback,
		ResponseType:   models.ResponseTypeAIFallback,
		SessionID:      sess.SessionID,
		FlowCompleted:  true,
		PhoneCollected: true,
		AIMode:         true,
	}, nil
}

// HandleWhatsAppAuthorization handles the WhatsApp opt-in button: it
// unconditionally recreates the session for the WhatsApp platform and sends
// the welcome message. Send failures are logged but do not fail the
// authorization.
func (o *Orchestrator) HandleWhatsAppAuthorization(ctx context.Context, sessionID, phoneNumber, source string) (*models.Session, error) {
	if source == "" {
		source = "whatsapp_button"
	}
	slog.Info("WhatsApp authorization", "sessionID", sessionID, "source", source)

	sess := models.NewSession(sessionID, models.PlatformWhatsApp)
	sess.PhoneNumber = phoneNumber
	sess.Source = source
	now := time.Now()
	sess.AuthorizedAt = &now

	if err := o.store.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save authorized session: %w", err)
	}

	if o.messenger != nil && phoneNumber != "" {
		if err := o.messenger.SendMessage(ctx, phoneNumber+"@s.whatsapp.net", msgWhatsAppWelcome); err != nil {
			slog.Error("Failed to send welcome message", "error", err, "phone", phoneNumber)
		} else {
			slog.Info("Welcome message sent", "phone", phoneNumber)
		}
	}
	return sess, nil
}

// PhoneSubmissionResult reports a processed web phone submission.
type PhoneSubmissionResult struct {
	PhoneNumber    string `json:"phone_number"`
	PhoneFormatted string `json:"phone_formatted"`
	SessionID      string `json:"session_id"`
}

// HandlePhoneSubmission records a phone number submitted through the web
// form. Unlike chat collection, submitted numbers skip the digit-count
// bounds; the form constrains input shape.
func (o *Orchestrator) HandlePhoneSubmission(ctx context.Context, phoneNumber, sessionID string) (PhoneSubmissionResult, error) {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return PhoneSubmissionResult{}, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return PhoneSubmissionResult{}, models.ErrSessionNotFound
	}

	digits, formatted, err := NormalizeSubmittedPhone(phoneNumber)
	if err != nil {
		return PhoneSubmissionResult{}, err
	}

	sess.PhoneCollected = true
	sess.CollectingPhone = false
	sess.AIMode = true
	sess.PhoneNumber = digits
	sess.PhoneFormatted = formatted
	sess.LastUpdated = time.Now()

	if err := o.store.SaveSession(sess); err != nil {
		return PhoneSubmissionResult{}, fmt.Errorf("failed to save session: %w", err)
	}

	o.sendConfirmationAndNotify(ctx, sess)

	slog.Info("Phone submission processed", "sessionID", sessionID, "phone", digits)
	return PhoneSubmissionResult{PhoneNumber: digits, PhoneFormatted: formatted, SessionID: sessionID}, nil
}

// SessionContext is the read-only session view returned to status consumers.
type SessionContext struct {
	Exists         bool            `json:"exists"`
	Session        *models.Session `json:"session_data,omitempty"`
	CurrentStep    int             `json:"current_step,omitempty"`
	FlowCompleted  bool            `json:"flow_completed,omitempty"`
	PhoneCollected bool            `json:"phone_collected,omitempty"`
	AIMode         bool            `json:"ai_mode,omitempty"`
	Platform       models.Platform `json:"platform,omitempty"`
}

// GetSessionContext returns the session view for status checks. A missing
// session yields Exists=false without an error.
func (o *Orchestrator) GetSessionContext(sessionID string) (SessionContext, error) {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return SessionContext{}, fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return SessionContext{}, nil
	}
	return SessionContext{
		Exists:         true,
		Session:        sess,
		CurrentStep:    sess.CurrentStep,
		FlowCompleted:  sess.FlowCompleted,
		PhoneCollected: sess.PhoneCollected,
		AIMode:         sess.AIMode,
		Platform:       sess.Platform,
	}, nil
}

// ResetSession deletes the session so the next message starts a fresh flow.
func (o *Orchestrator) ResetSession(sessionID string) error {
	if err := o.store.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("failed to reset session %s: %w", sessionID, err)
	}
	slog.Info("Session reset", "sessionID", sessionID)
	return nil
}

// AIStatus reports the AI backend health for the service status endpoint.
type AIStatus struct {
	Status    string `json:"status"`
	Available bool   `json:"gemini_available"`
}

// ServiceStatus is the aggregate health report for the /status endpoint.
type ServiceStatus struct {
	OverallStatus string          `json:"overall_status"`
	StoreStatus   string          `json:"store_status"`
	AIStatus      AIStatus        `json:"ai_status"`
	Features      map[string]bool `json:"features"`
	FallbackMode  bool            `json:"fallback_mode"`
	AIAvailable   bool            `json:"gemini_available"`
}

// Status aggregates store and AI backend health.
func (o *Orchestrator) Status() ServiceStatus {
	storeStatus, err := o.store.Status()
	if err != nil {
		slog.Error("Store status check failed", "error", err)
		storeStatus = "error"
	}

	overall := "active"
	if storeStatus != "active" {
		overall = "degraded"
	}

	aiAvailable := o.ai != nil && !o.breaker.Unavailable()
	ai := AIStatus{Status: "active", Available: aiAvailable}
	switch {
	case o.ai == nil:
		ai.Status = "not_configured"
	case !aiAvailable:
		ai.Status = "quota_exceeded"
	}

	return ServiceStatus{
		OverallStatus: overall,
		StoreStatus:   storeStatus,
		AIStatus:      ai,
		Features: map[string]bool{
			"structured_flow":      true,
			"phone_collection":     true,
			"whatsapp_integration": o.messenger != nil,
			"lawyer_notifications": o.notifier != nil,
			"ai_fallback":          true,
		},
		FallbackMode: !aiAvailable,
		AIAvailable:  aiAvailable,
	}
}

// leadField returns the answer stored for a step, or fallback when absent.
func leadField(sess *models.Session, step int, fallback string) string {
	if v := sess.LeadData[models.StepField(step)]; v != "" {
		return v
	}
	return fallback
}

// truncate shortens s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
