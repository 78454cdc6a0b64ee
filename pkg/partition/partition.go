// Package partition builds the regressor sets used to estimate trial-level
// activation patterns from a first-level model.
//
// Two strategies are supported. The multi-regressor strategy fits one model
// per session with one regressor per trial. The multi-model strategy fits one
// model per trial, in which the trial of interest has its own regressor, the
// remaining trials of the same condition share one regressor and every other
// condition keeps its original regressor.
//
// Conditions listed in the ignore set are never split into trials.
package partition

import (
	"fmt"

	"betaseries/internal/models"
)

// OtherPrefix prefixes the regressor holding the remaining trials of the
// condition of interest in multi-model sets.
const OtherPrefix = "OTHER_"

// TrialModel is the regressor set of one single-trial model
type TrialModel struct {
	// Condition is the label of the isolated trial's condition
	Condition string

	// Trial is the 1-based index of the trial within its condition
	Trial int

	// Name identifies the model, e.g. "face_003"
	Name string

	// Regressors in fixed order: single trial, other same-condition trials
	// (if any), then every other condition
	Regressors models.RegressorSet
}

// Partitioner splits session conditions into regressors
type Partitioner struct {
	ignore map[string]bool
}

// New creates a partitioner. Conditions named in ignore are modelled as a
// single regressor and are never isolated.
func New(ignore []string) *Partitioner {
	p := &Partitioner{ignore: make(map[string]bool, len(ignore))}
	for _, name := range ignore {
		p.ignore[name] = true
	}
	return p
}

// Ignored reports whether the condition is in the ignore set
func (p *Partitioner) Ignored(name string) bool {
	return p.ignore[name]
}

// MultiRegressor returns the one-regressor-per-trial set for a session.
// sessionIdx is 1-based and only used for the trial log, which may be nil.
func (p *Partitioner) MultiRegressor(sessionIdx int, s models.Session, log *models.TrialLog) (models.RegressorSet, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("session %d: %w", sessionIdx, err)
	}

	set := make(models.RegressorSet, 0, s.Onsets())
	for _, c := range s.Conditions {
		if p.ignore[c.Name] {
			set = append(set, models.Regressor{
				Name:      c.Name,
				Onsets:    cloneFloats(c.Onsets),
				Durations: cloneFloats(c.Durations),
			})
			record(log, models.TrialRecord{
				Session:    sessionIdx,
				Condition:  c.Name,
				Repetition: 1,
				OnsetCount: len(c.Onsets),
				Name:       c.Name,
			})
			continue
		}

		for k := range c.Onsets {
			name := fmt.Sprintf("%s_%d", c.Name, k+1)
			set = append(set, models.Regressor{
				Name:      name,
				Onsets:    []float64{c.Onsets[k]},
				Durations: []float64{c.Durations[k]},
			})
			record(log, models.TrialRecord{
				Session:    sessionIdx,
				Condition:  c.Name,
				Repetition: k + 1,
				OnsetCount: 1,
				Name:       name,
			})
		}
	}

	return set, nil
}

// MultiModel returns one regressor set per trial of every non-ignored
// condition of the session, in condition-then-trial order.
func (p *Partitioner) MultiModel(sessionIdx int, s models.Session, log *models.TrialLog) ([]TrialModel, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("session %d: %w", sessionIdx, err)
	}

	var out []TrialModel
	for ci, c := range s.Conditions {
		if p.ignore[c.Name] {
			continue
		}
		for k := 1; k <= c.Trials(); k++ {
			set, err := p.SingleTrial(s, ci, k)
			if err != nil {
				return nil, fmt.Errorf("session %d: %w", sessionIdx, err)
			}
			name := TrialName(c.Name, k)
			out = append(out, TrialModel{
				Condition:  c.Name,
				Trial:      k,
				Name:       name,
				Regressors: set,
			})
			record(log, models.TrialRecord{
				Session:    sessionIdx,
				Condition:  c.Name,
				Repetition: k,
				OnsetCount: 1,
				Name:       name,
			})
		}
	}

	return out, nil
}

// SingleTrial builds the regressor set isolating trial k (1-based) of
// condition condIdx (0-based).
func (p *Partitioner) SingleTrial(s models.Session, condIdx, k int) (models.RegressorSet, error) {
	if condIdx < 0 || condIdx >= len(s.Conditions) {
		return nil, fmt.Errorf("condition index %d out of range [0, %d): %w",
			condIdx, len(s.Conditions), models.ErrInvalidInput)
	}
	c := s.Conditions[condIdx]
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if k < 1 || k > c.Trials() {
		return nil, fmt.Errorf("trial %d of condition %q out of range [1, %d]: %w",
			k, c.Name, c.Trials(), models.ErrInvalidInput)
	}

	set := make(models.RegressorSet, 0, len(s.Conditions)+1)
	set = append(set, models.Regressor{
		Name:      TrialName(c.Name, k),
		Onsets:    []float64{c.Onsets[k-1]},
		Durations: []float64{c.Durations[k-1]},
	})

	if c.Trials() > 1 {
		other := models.Regressor{
			Name:      OtherPrefix + c.Name,
			Onsets:    make([]float64, 0, c.Trials()-1),
			Durations: make([]float64, 0, c.Trials()-1),
		}
		for i := range c.Onsets {
			if i == k-1 {
				continue
			}
			other.Onsets = append(other.Onsets, c.Onsets[i])
			other.Durations = append(other.Durations, c.Durations[i])
		}
		set = append(set, other)
	}

	for di, d := range s.Conditions {
		if di == condIdx {
			continue
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		set = append(set, models.Regressor{
			Name:      d.Name,
			Onsets:    cloneFloats(d.Onsets),
			Durations: cloneFloats(d.Durations),
		})
	}

	return set, nil
}

// TrialName returns the zero-padded name of a single-trial regressor
func TrialName(condition string, k int) string {
	return fmt.Sprintf("%s_%03d", condition, k)
}

func record(log *models.TrialLog, rec models.TrialRecord) {
	if log != nil {
		log.Append(rec)
	}
}

func cloneFloats(in []float64) []float64 {
	out := make([]float64, len(in))
	copy(out, in)
	return out
}
