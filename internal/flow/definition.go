// Package flow implements the IntakeFlow conversation controller: the fixed
// structured intake flow, phone collection, and the AI conversation mode with
// its availability breaker.
package flow

import (
	"log/slog"

	"github.com/lexbr/intakeflow/internal/models"
)

// DefinitionProvider supplies the ordered intake flow steps. The static
// provider below is the production implementation; tests may substitute
// shorter flows.
type DefinitionProvider interface {
	// Steps returns the flow definition in ascending step order.
	Steps() []models.FlowStep
	// Step returns the step with the given 1-based id, or ErrStepNotFound.
	Step(id int) (models.FlowStep, error)
}

// StaticDefinition is an immutable in-memory flow definition.
type StaticDefinition struct {
	steps []models.FlowStep
}

// NewStaticDefinition creates a provider over the given steps. Steps are
// assumed to carry contiguous 1-based ids.
func NewStaticDefinition(steps []models.FlowStep) *StaticDefinition {
	return &StaticDefinition{steps: steps}
}

// DefaultDefinition returns the production legal intake flow: four fixed
// questions asked in order, each persisted under its step field.
func DefaultDefinition() *StaticDefinition {
	return NewStaticDefinition([]models.FlowStep{
		{
			ID:       1,
			Field:    "name",
			Question: "Olá! Seja bem-vindo(a) ao nosso atendimento. Para começar, qual é o seu nome completo?",
			// Full name: at least two words.
			Validation: models.StepValidation{MinTokens: 2},
		},
		{
			ID:         2,
			Field:      "area_of_law",
			Question:   "Prazer em conhecê-lo(a)! Em qual área do direito você precisa de ajuda? (Ex: trabalhista, família, consumidor, previdenciário)",
			Validation: models.StepValidation{MinLength: 3},
		},
		{
			ID:         3,
			Field:      "situation",
			Question:   "Entendi. Agora me conte com mais detalhes: qual é a sua situação? O que aconteceu?",
			Validation: models.StepValidation{MinLength: 10},
		},
		{
			ID:       4,
			Field:    "wants_meeting",
			Question: "Obrigado por compartilhar. Você gostaria de agendar uma reunião com um de nossos advogados para discutir seu caso?",
		},
	})
}

// Steps returns the flow definition in ascending step order.
func (d *StaticDefinition) Steps() []models.FlowStep {
	return d.steps
}

// Step returns the step with the given id.
func (d *StaticDefinition) Step(id int) (models.FlowStep, error) {
	for _, s := range d.steps {
		if s.ID == id {
			return s, nil
		}
	}
	slog.Debug("StaticDefinition step not found", "id", id)
	return models.FlowStep{}, models.ErrStepNotFound
}

// TotalSteps returns the number of steps in the definition.
func (d *StaticDefinition) TotalSteps() int {
	return len(d.steps)
}
