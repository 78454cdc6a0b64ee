package models

// TrialRecord is one row of the trial bookkeeping log
type TrialRecord struct {
	// Trial is the 1-based running index across the whole run
	Trial int

	// Session is the 1-based session number
	Session int

	// Condition is the label of the condition the trial belongs to
	Condition string

	// Repetition is the 1-based index of the trial within its condition
	Repetition int

	// OnsetCount is the number of events covered by the generated regressor
	OnsetCount int

	// Name is the generated regressor (or model) name
	Name string
}

// TrialLog is an append-only log of trial records owned by the driver.
type TrialLog struct {
	records []TrialRecord
}

// NewTrialLog creates an empty log
func NewTrialLog() *TrialLog {
	return &TrialLog{records: make([]TrialRecord, 0)}
}

// Append stores a record, assigning the next trial index, and returns it.
func (l *TrialLog) Append(rec TrialRecord) TrialRecord {
	rec.Trial = len(l.records) + 1
	l.records = append(l.records, rec)
	return rec
}

// Records returns a copy of the log contents
func (l *TrialLog) Records() []TrialRecord {
	out := make([]TrialRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records
func (l *TrialLog) Len() int {
	return len(l.records)
}
