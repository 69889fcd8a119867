package forecast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/tenki/internal/features"
)

// Artifact is a trained model together with everything needed to check it is
// queried with the same feature layout it was fitted on.
type Artifact struct {
	Target       features.Target `json:"target"`
	Schema       features.Schema `json:"schema"`
	Model        Model           `json:"model"`
	TrainedMonth time.Month      `json:"trained_month"`
	TrainedAt    time.Time       `json:"trained_at"`
	TrainingRows int             `json:"training_rows"`
	// FirstDate and LastDate bound the training rows.
	FirstDate time.Time `json:"first_date"`
	LastDate  time.Time `json:"last_date"`
}

// Predict checks schema against the artifact's and evaluates the model.
func (a *Artifact) Predict(schema features.Schema, x []float64) (float64, error) {
	if err := a.Schema.Equal(schema); err != nil {
		return 0, fmt.Errorf("%s model: %w", a.Target.Name(), err)
	}
	return a.Model.Predict(x)
}

func (a *Artifact) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

func (a *Artifact) UnmarshalBinary(data []byte) error {
	type plain Artifact
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	if len(p.Model.Coef) != p.Schema.Len() {
		return fmt.Errorf("decode artifact: %d coefficients for %d features", len(p.Model.Coef), p.Schema.Len())
	}
	*a = Artifact(p)
	return nil
}
