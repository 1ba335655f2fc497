package messaging

import (
	"context"
	"log/slog"

	"github.com/lexbr/intakeflow/internal/models"
)

// MessageProcessor produces a conversation reply for an inbound message. The
// conversation controller implements it; the session id for WhatsApp traffic
// is "whatsapp_" followed by the sender's bare phone digits.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message, sessionID, phoneNumber string, platform models.Platform) models.IntakeResponse
}

// Responder consumes inbound messages from a messaging service, runs them
// through the conversation controller, and sends the reply back to the
// sender.
type Responder struct {
	service   Service
	processor MessageProcessor
}

// NewResponder creates a responder over the given service and processor.
func NewResponder(service Service, processor MessageProcessor) *Responder {
	return &Responder{service: service, processor: processor}
}

// Start launches the responder and receipt loops. They run until ctx is
// cancelled or the service's channels close.
func (r *Responder) Start(ctx context.Context) {
	go r.run(ctx)
	go r.drainReceipts(ctx)
	slog.Debug("Responder loop started")
}

func (r *Responder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Responder loop stopping due to context cancellation")
			return
		case msg, ok := <-r.service.Responses():
			if !ok {
				slog.Debug("Responder loop stopping, inbound channel closed")
				return
			}
			r.handle(ctx, msg)
		}
	}
}

// drainReceipts consumes delivery receipts so senders never block on the
// receipt channel. Receipts are logged only; delivery state is not tracked.
func (r *Responder) drainReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-r.service.Receipts():
			if !ok {
				return
			}
			slog.Debug("Message receipt", "to", receipt.To, "status", receipt.Status)
		}
	}
}

// handle processes one inbound message. The controller guarantees a
// well-formed reply, so the only failure mode here is outbound delivery.
func (r *Responder) handle(ctx context.Context, msg models.InboundMessage) {
	slog.Info("Responder handling inbound message", "from", msg.From, "body_length", len(msg.Body))

	resp := r.processor.ProcessMessage(ctx, msg.Body, "whatsapp_"+msg.From, msg.From, models.PlatformWhatsApp)

	if err := r.service.SendMessage(ctx, msg.From, resp.Response); err != nil {
		slog.Error("Responder failed to deliver reply", "error", err, "to", msg.From, "responseType", resp.ResponseType)
		return
	}
	slog.Debug("Responder delivered reply", "to", msg.From, "responseType", resp.ResponseType)
}
