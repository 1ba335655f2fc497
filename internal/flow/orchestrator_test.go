package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lexbr/intakeflow/internal/genai"
	"github.com/lexbr/intakeflow/internal/models"
	"github.com/lexbr/intakeflow/internal/store"
)

type sentMessage struct {
	To   string
	Body string
}

type mockMessenger struct {
	sent []sentMessage
	err  error
}

func (m *mockMessenger) SendMessage(ctx context.Context, to, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{To: to, Body: body})
	return nil
}

type mockNotifier struct {
	notifications []LeadNotification
	err           error
}

func (m *mockNotifier) NotifyNewLead(ctx context.Context, n LeadNotification) error {
	if m.err != nil {
		return m.err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

// failingStore wraps the in-memory store, failing selected operations.
type failingStore struct {
	*store.InMemoryStore
	failSaveLead    bool
	failSaveSession bool
	failGetSession  bool
}

func (f *failingStore) SaveLead(lead models.Lead) (string, error) {
	if f.failSaveLead {
		return "", errors.New("lead write failed")
	}
	return f.InMemoryStore.SaveLead(lead)
}

func (f *failingStore) SaveSession(sess *models.Session) error {
	if f.failSaveSession {
		return errors.New("session write failed")
	}
	return f.InMemoryStore.SaveSession(sess)
}

func (f *failingStore) GetSession(id string) (*models.Session, error) {
	if f.failGetSession {
		return nil, errors.New("session read failed")
	}
	return f.InMemoryStore.GetSession(id)
}

// runIntake walks a session through all four questions.
func runIntake(t *testing.T, o *Orchestrator, sessionID string) models.IntakeResponse {
	t.Helper()
	ctx := context.Background()
	answers := []string{
		"Maria Silva",
		"Direito Trabalhista",
		"Fui demitida sem justa causa depois de dez anos",
		"Sim, quero agendar",
	}
	var resp models.IntakeResponse
	for i, answer := range answers {
		resp = o.ProcessMessage(ctx, answer, sessionID, "", models.PlatformWeb)
		if i < len(answers)-1 && resp.ResponseType != models.ResponseTypeStructuredQuestion {
			t.Fatalf("answer %d: unexpected response type %s (%s)", i+1, resp.ResponseType, resp.Response)
		}
	}
	return resp
}

func TestGreetingReturnsFirstQuestion(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	for _, greeting := range []string{"olá", "Oi", "hello", "HI", "start_conversation"} {
		resp := o.ProcessMessage(ctx, greeting, "web_greet", "", models.PlatformWeb)
		if resp.ResponseType != models.ResponseTypeStructuredQuestion {
			t.Errorf("greeting %q: got %s, want structured_question", greeting, resp.ResponseType)
		}
		if resp.CurrentStep != 1 {
			t.Errorf("greeting %q advanced the flow to step %d", greeting, resp.CurrentStep)
		}
	}

	sess, _ := st.GetSession("web_greet")
	if len(sess.LeadData) != 0 {
		t.Errorf("greeting stored as answer: %+v", sess.LeadData)
	}
}

func TestGreetingOnlyBypassesStepOne(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	o.ProcessMessage(ctx, "Maria Silva", "web_g2", "", models.PlatformWeb)
	// At step 2 "oi" is a too-short answer, not a greeting.
	resp := o.ProcessMessage(ctx, "oi", "web_g2", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypeValidationError {
		t.Errorf("got %s, want validation_error at step 2", resp.ResponseType)
	}
}

func TestStructuredFlowProgression(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)

	resp := runIntake(t, o, "web_flow")
	if resp.ResponseType != models.ResponseTypePhoneCollection {
		t.Fatalf("final response type = %s, want phone_collection", resp.ResponseType)
	}
	if !resp.FlowCompleted || !resp.CollectingPhone {
		t.Errorf("completion flags wrong: %+v", resp)
	}
	if resp.LeadID == "" {
		t.Fatal("expected lead id on completion response")
	}

	lead, err := st.GetLead(resp.LeadID)
	if err != nil || lead == nil {
		t.Fatalf("lead not persisted: %v", err)
	}
	if lead.Name != "Maria Silva" || lead.AreaOfLaw != "Direito Trabalhista" {
		t.Errorf("lead fields wrong: %+v", lead)
	}
	if lead.Status != models.LeadStatusIntakeCompleted {
		t.Errorf("lead status = %q", lead.Status)
	}

	sess, _ := st.GetSession("web_flow")
	if !sess.FlowCompleted || !sess.CollectingPhone || sess.LeadID != resp.LeadID {
		t.Errorf("session state not persisted before respond: %+v", sess)
	}
}

func TestValidationRules(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	cases := []struct {
		name    string
		prior   []string
		message string
	}{
		{"single word name", nil, "Maria"},
		{"too short global", nil, "a"},
		{"area under three chars", []string{"Maria Silva"}, "ab"},
		{"situation under ten chars", []string{"Maria Silva", "Trabalhista"}, "demitida"},
		// Accented characters count once each, not once per byte.
		{"accented situation under ten chars", []string{"Maria Silva", "Trabalhista"}, "çãçãçã"},
		{"single accented char at final step", []string{"Maria Silva", "Trabalhista", "Fui demitida sem justa causa"}, "ã"},
	}
	for _, c := range cases {
		sessionID := "web_val_" + strings.ReplaceAll(c.name, " ", "_")
		for _, p := range c.prior {
			o.ProcessMessage(ctx, p, sessionID, "", models.PlatformWeb)
		}
		before, _ := st.GetSession(sessionID)
		resp := o.ProcessMessage(ctx, c.message, sessionID, "", models.PlatformWeb)
		if resp.ResponseType != models.ResponseTypeValidationError {
			t.Errorf("%s: got %s, want validation_error", c.name, resp.ResponseType)
			continue
		}
		if !strings.HasPrefix(resp.Response, "Por favor, forneça uma resposta mais completa.") {
			t.Errorf("%s: unexpected re-prompt %q", c.name, resp.Response)
		}
		after, _ := st.GetSession(sessionID)
		if before != nil && after.CurrentStep != before.CurrentStep {
			t.Errorf("%s: rejected answer advanced the flow", c.name)
		}
		if _, stored := after.LeadData[models.StepField(after.CurrentStep)]; stored {
			t.Errorf("%s: rejected answer was stored", c.name)
		}
	}
}

func TestStepFourAcceptsShortAnswer(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	for _, msg := range []string{"Maria Silva", "Trabalhista", "Fui demitida sem justa causa"} {
		o.ProcessMessage(ctx, msg, "web_s4", "", models.PlatformWeb)
	}
	// Step 4 only applies the global two-character floor.
	resp := o.ProcessMessage(ctx, "ok", "web_s4", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypePhoneCollection {
		t.Errorf("got %s, want phone_collection", resp.ResponseType)
	}
}

func TestAlreadyAnsweredAdvancesWithoutRestoring(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	o.ProcessMessage(ctx, "Maria Silva", "web_dup", "", models.PlatformWeb)

	// Simulate a webhook retry: the session still points at step 1 but the
	// answer is already recorded.
	sess, _ := st.GetSession("web_dup")
	sess.CurrentStep = 1
	st.SaveSession(sess)

	resp := o.ProcessMessage(ctx, "Maria Silva outra vez", "web_dup", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypeStructuredQuestion || resp.CurrentStep != 2 {
		t.Fatalf("duplicate did not advance: %+v", resp)
	}
	after, _ := st.GetSession("web_dup")
	if after.LeadData[models.StepField(1)] != "Maria Silva" {
		t.Errorf("duplicate overwrote stored answer: %q", after.LeadData[models.StepField(1)])
	}
}

func TestPhoneCollection(t *testing.T) {
	st := store.NewInMemoryStore()
	messenger := &mockMessenger{}
	notifier := &mockNotifier{}
	o := NewOrchestrator(st, WithMessenger(messenger), WithLawyerNotifier(notifier))
	ctx := context.Background()

	runIntake(t, o, "web_phone")

	// Out-of-bounds numbers are rejected and the session keeps collecting.
	resp := o.ProcessMessage(ctx, "123", "web_phone", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypePhoneValidationError {
		t.Fatalf("got %s, want phone_validation_error", resp.ResponseType)
	}
	if !resp.CollectingPhone {
		t.Error("rejection must keep collecting_phone set")
	}

	resp = o.ProcessMessage(ctx, "(11) 99999-8888", "web_phone", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypePhoneCollected {
		t.Fatalf("got %s, want phone_collected (%s)", resp.ResponseType, resp.Response)
	}
	if resp.PhoneNumber != "11999998888" {
		t.Errorf("response phone = %q", resp.PhoneNumber)
	}
	// The confirmation echoes the digits as typed, not a formatted rendering.
	if !strings.Contains(resp.Response, "Número confirmado: 11999998888") {
		t.Errorf("confirmation should echo the bare digits: %q", resp.Response)
	}

	sess, _ := st.GetSession("web_phone")
	if !sess.PhoneCollected || sess.CollectingPhone || !sess.AIMode {
		t.Errorf("session flags wrong after collection: %+v", sess)
	}
	if sess.PhoneFormatted != "5511999998888" {
		t.Errorf("formatted phone = %q", sess.PhoneFormatted)
	}

	// User confirmation goes to the collected number's JID.
	if len(messenger.sent) != 1 {
		t.Fatalf("expected 1 confirmation message, got %d", len(messenger.sent))
	}
	if messenger.sent[0].To != "5511999998888@s.whatsapp.net" {
		t.Errorf("confirmation recipient = %q", messenger.sent[0].To)
	}
	if !strings.Contains(messenger.sent[0].Body, "Maria Silva") {
		t.Errorf("confirmation missing lead name: %q", messenger.sent[0].Body)
	}

	if len(notifier.notifications) != 1 {
		t.Fatalf("expected 1 lawyer notification, got %d", len(notifier.notifications))
	}
	n := notifier.notifications[0]
	if n.Name != "Maria Silva" || n.Category != "Direito Trabalhista" || n.Phone != "11999998888" {
		t.Errorf("notification fields wrong: %+v", n)
	}
}

func TestConfirmationTruncatesLongSituation(t *testing.T) {
	st := store.NewInMemoryStore()
	messenger := &mockMessenger{}
	o := NewOrchestrator(st, WithMessenger(messenger))
	ctx := context.Background()

	long := strings.Repeat("processo trabalhista ", 10) // > 100 chars
	for _, msg := range []string{"Maria Silva", "Trabalhista", long, "Sim"} {
		o.ProcessMessage(ctx, msg, "web_trunc", "", models.PlatformWeb)
	}
	o.ProcessMessage(ctx, "11999998888", "web_trunc", "", models.PlatformWeb)

	if len(messenger.sent) != 1 {
		t.Fatalf("expected confirmation message, got %d", len(messenger.sent))
	}
	body := messenger.sent[0].Body
	if !strings.Contains(body, "...") {
		t.Errorf("long situation not truncated: %q", body)
	}
	if strings.Contains(body, strings.TrimSpace(long)) {
		t.Error("confirmation carries the full situation text")
	}
}

func TestNotificationFailuresAreIsolated(t *testing.T) {
	st := store.NewInMemoryStore()
	messenger := &mockMessenger{err: errors.New("send failed")}
	notifier := &mockNotifier{err: errors.New("notify failed")}
	o := NewOrchestrator(st, WithMessenger(messenger), WithLawyerNotifier(notifier))
	ctx := context.Background()

	runIntake(t, o, "web_iso")
	resp := o.ProcessMessage(ctx, "11999998888", "web_iso", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypePhoneCollected {
		t.Errorf("delivery failures leaked into the response: %s", resp.ResponseType)
	}
}

func TestCompletionErrorDegradesToAIMode(t *testing.T) {
	st := &failingStore{InMemoryStore: store.NewInMemoryStore(), failSaveLead: true}
	o := NewOrchestrator(st)

	resp := runIntake(t, o, "web_fail")
	if resp.ResponseType != models.ResponseTypeCompletionError {
		t.Fatalf("got %s, want completion_error", resp.ResponseType)
	}
	if !resp.FlowCompleted || !resp.AIMode {
		t.Errorf("completion error must degrade with flow_completed and ai_mode set: %+v", resp)
	}
}

func TestAIConversation(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &genai.MockClient{
		GenerateFn: func(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error) {
			if sessionContext["name"] != "Maria Silva" {
				t.Errorf("AI context missing intake answers: %+v", sessionContext)
			}
			return "Posso ajudar com isso.", nil
		},
	}
	o := NewOrchestrator(st, WithAIClient(ai))
	ctx := context.Background()

	runIntake(t, o, "web_ai")
	o.ProcessMessage(ctx, "11999998888", "web_ai", "", models.PlatformWeb)

	resp := o.ProcessMessage(ctx, "Tenho direito a FGTS?", "web_ai", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypeAIIntelligent {
		t.Fatalf("got %s, want ai_intelligent (%s)", resp.ResponseType, resp.Response)
	}
	if !resp.AIAvailable {
		t.Error("gemini_available must be true on AI success")
	}
	if resp.Response != "Posso ajudar com isso." {
		t.Errorf("unexpected AI reply: %q", resp.Response)
	}
}

func TestAIQuotaErrorTripsBreaker(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &genai.MockClient{
		GenerateFn: func(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error) {
			return "", errors.New("googleapi: Error 429: quota exceeded")
		},
	}
	breaker := NewBreaker(5 * time.Minute)
	o := NewOrchestrator(st, WithAIClient(ai), WithBreaker(breaker))
	ctx := context.Background()

	runIntake(t, o, "web_quota")
	o.ProcessMessage(ctx, "11999998888", "web_quota", "", models.PlatformWeb)

	resp := o.ProcessMessage(ctx, "Dúvida", "web_quota", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypeAIFallback {
		t.Fatalf("got %s, want ai_fallback", resp.ResponseType)
	}
	if resp.AIAvailable {
		t.Error("gemini_available must be false on fallback")
	}
	if !breaker.Unavailable() {
		t.Fatal("quota error did not trip the breaker")
	}

	// While tripped the provider is not called again.
	calls := ai.Calls
	o.ProcessMessage(ctx, "Outra dúvida", "web_quota", "", models.PlatformWeb)
	if ai.Calls != calls {
		t.Error("tripped breaker still calls the provider")
	}
}

func TestAITransientErrorDoesNotTripBreaker(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &genai.MockClient{
		GenerateFn: func(ctx context.Context, message, sessionID string, sessionContext map[string]string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	breaker := NewBreaker(5 * time.Minute)
	o := NewOrchestrator(st, WithAIClient(ai), WithBreaker(breaker))
	ctx := context.Background()

	runIntake(t, o, "web_transient")
	o.ProcessMessage(ctx, "11999998888", "web_transient", "", models.PlatformWeb)

	resp := o.ProcessMessage(ctx, "Dúvida", "web_transient", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypeAIFallback {
		t.Fatalf("got %s, want ai_fallback", resp.ResponseType)
	}
	if breaker.Unavailable() {
		t.Error("transient error tripped the breaker")
	}
}

func TestAIFallbackWithoutClient(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	runIntake(t, o, "web_noai")
	o.ProcessMessage(ctx, "11999998888", "web_noai", "", models.PlatformWeb)

	resp := o.ProcessMessage(ctx, "Dúvida", "web_noai", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypeAIFallback {
		t.Errorf("got %s, want ai_fallback", resp.ResponseType)
	}
	if resp.AIAvailable {
		t.Error("gemini_available must be false without a client")
	}
}

func TestProcessMessageStoreFailureDegrades(t *testing.T) {
	st := &failingStore{InMemoryStore: store.NewInMemoryStore(), failGetSession: true}
	o := NewOrchestrator(st)

	resp := o.ProcessMessage(context.Background(), "Maria Silva", "web_err", "", models.PlatformWeb)
	if resp.ResponseType != models.ResponseTypeErrorFallback {
		t.Fatalf("got %s, want error_fallback", resp.ResponseType)
	}
	if resp.Response != msgErrorFallback {
		t.Errorf("unexpected fallback text: %q", resp.Response)
	}
	if resp.Error == "" {
		t.Error("error_fallback should carry the error detail")
	}
}

func TestHandleWhatsAppAuthorizationRecreatesSession(t *testing.T) {
	st := store.NewInMemoryStore()
	messenger := &mockMessenger{}
	o := NewOrchestrator(st, WithMessenger(messenger))
	ctx := context.Background()

	// Existing session with progress.
	o.ProcessMessage(ctx, "Maria Silva", "5511999998888", "", models.PlatformWhatsApp)

	sess, err := o.HandleWhatsAppAuthorization(ctx, "5511999998888", "5511999998888", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.CurrentStep != 1 || len(sess.LeadData) != 0 {
		t.Errorf("authorization must recreate the session from scratch: %+v", sess)
	}
	if sess.Source != "whatsapp_button" {
		t.Errorf("default source = %q", sess.Source)
	}
	if sess.AuthorizedAt == nil {
		t.Error("authorized_at not set")
	}

	stored, _ := st.GetSession("5511999998888")
	if stored.CurrentStep != 1 || len(stored.LeadData) != 0 {
		t.Errorf("recreated session not persisted: %+v", stored)
	}

	if len(messenger.sent) != 1 || messenger.sent[0].To != "5511999998888@s.whatsapp.net" {
		t.Errorf("welcome message not sent: %+v", messenger.sent)
	}
}

func TestHandlePhoneSubmission(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	if _, err := o.HandlePhoneSubmission(ctx, "11999998888", "missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	runIntake(t, o, "web_submit")

	// Submitted numbers skip the chat digit-count bounds.
	result, err := o.HandlePhoneSubmission(ctx, "99998888", "web_submit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PhoneNumber != "99998888" || result.PhoneFormatted != "5599998888" {
		t.Errorf("submission result wrong: %+v", result)
	}

	sess, _ := st.GetSession("web_submit")
	if !sess.PhoneCollected || !sess.AIMode || sess.CollectingPhone {
		t.Errorf("session flags wrong after submission: %+v", sess)
	}
}

func TestGetSessionContextAndReset(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st)
	ctx := context.Background()

	sc, err := o.GetSessionContext("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Exists {
		t.Error("missing session reported as existing")
	}

	o.ProcessMessage(ctx, "Maria Silva", "web_ctx", "", models.PlatformWeb)
	sc, err = o.GetSessionContext("web_ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sc.Exists || sc.CurrentStep != 2 || sc.Platform != models.PlatformWeb {
		t.Errorf("session context wrong: %+v", sc)
	}

	if err := o.ResetSession("web_ctx"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sc, _ = o.GetSessionContext("web_ctx")
	if sc.Exists {
		t.Error("session survived reset")
	}
}

func TestStatusReportsBreakerState(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &genai.MockClient{}
	breaker := NewBreaker(5 * time.Minute)
	o := NewOrchestrator(st, WithAIClient(ai), WithBreaker(breaker))

	status := o.Status()
	if status.OverallStatus != "active" || !status.AIAvailable || status.FallbackMode {
		t.Errorf("healthy status wrong: %+v", status)
	}
	if status.AIStatus.Status != "active" {
		t.Errorf("AI status = %q", status.AIStatus.Status)
	}

	breaker.Trip()
	status = o.Status()
	if status.AIAvailable || !status.FallbackMode || status.AIStatus.Status != "quota_exceeded" {
		t.Errorf("tripped status wrong: %+v", status)
	}

	noAI := NewOrchestrator(st)
	if s := noAI.Status(); s.AIStatus.Status != "not_configured" || s.AIAvailable {
		t.Errorf("unconfigured AI status wrong: %+v", s)
	}
}
