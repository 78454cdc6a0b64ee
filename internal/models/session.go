package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Condition is one experimental condition of a session
type Condition struct {
	// Name is the condition label used for regressor names
	Name string `yaml:"name"`

	// Onsets are the event onset times, in the units of the model timing
	Onsets []float64 `yaml:"onsets"`

	// Durations has one entry per onset
	Durations []float64 `yaml:"durations"`
}

// Validate checks that every onset has a matching duration.
func (c Condition) Validate() error {
	if len(c.Onsets) != len(c.Durations) {
		return fmt.Errorf("condition %q has %d onsets but %d durations: %w",
			c.Name, len(c.Onsets), len(c.Durations), ErrInvalidInput)
	}
	return nil
}

// Trials returns the number of events in the condition
func (c Condition) Trials() int {
	return len(c.Onsets)
}

// Session represents one scanning run of a first-level model
type Session struct {
	// Scans lists the functional volumes of the run in acquisition order
	Scans []string

	// Conditions in declared order
	Conditions []Condition

	// Covariates holds nuisance regressors, rows are timepoints. May be nil.
	Covariates *mat.Dense

	// HighPass is the high-pass filter cutoff in seconds
	HighPass float64
}

// Validate checks all conditions of the session.
func (s Session) Validate() error {
	for _, c := range s.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Onsets returns the total number of events across all conditions
func (s Session) Onsets() int {
	n := 0
	for _, c := range s.Conditions {
		n += len(c.Onsets)
	}
	return n
}

// Regressor is one column of the task design before convolution. A regressor
// may cover several events.
type Regressor struct {
	Name      string    `yaml:"name"`
	Onsets    []float64 `yaml:"onsets"`
	Durations []float64 `yaml:"durations"`
}

// RegressorSet is the ordered list of task regressors of one model.
type RegressorSet []Regressor

// Names returns the regressor names in order
func (rs RegressorSet) Names() []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}

// Onsets returns the per-regressor onset lists, parallel to Names
func (rs RegressorSet) Onsets() [][]float64 {
	onsets := make([][]float64, len(rs))
	for i, r := range rs {
		onsets[i] = r.Onsets
	}
	return onsets
}

// Durations returns the per-regressor duration lists, parallel to Names
func (rs RegressorSet) Durations() [][]float64 {
	durations := make([][]float64, len(rs))
	for i, r := range rs {
		durations[i] = r.Durations
	}
	return durations
}

// Index returns the position of the named regressor, or -1
func (rs RegressorSet) Index(name string) int {
	for i, r := range rs {
		if r.Name == name {
			return i
		}
	}
	return -1
}
