package partition

import (
	"fmt"
	"strings"

	"betaseries/internal/models"
)

// Strategy selects how trials are modelled
type Strategy int

const (
	// MultiRegressor fits one model per session with one regressor per trial
	MultiRegressor Strategy = iota

	// MultiModel fits one model per trial
	MultiModel
)

// String returns the canonical name of the strategy
func (s Strategy) String() string {
	switch s {
	case MultiRegressor:
		return "multi-regressor"
	case MultiModel:
		return "multi-model"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy accepts "multi-regressor" (or "lsa") and "multi-model" (or "lss").
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "multi-regressor", "lsa":
		return MultiRegressor, nil
	case "multi-model", "lss":
		return MultiModel, nil
	default:
		return 0, fmt.Errorf("strategy %q: %w", name, models.ErrUnsupportedStrategy)
	}
}
