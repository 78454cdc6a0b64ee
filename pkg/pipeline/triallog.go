package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"betaseries/internal/models"
)

var trialLogHeader = []string{"trial", "session", "condition", "repetition", "onsets", "name"}

// WriteTrialLog stores the trial records as CSV, one row per record.
func WriteTrialLog(path string, records []models.TrialRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating trial log directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating trial log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(trialLogHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Trial),
			strconv.Itoa(rec.Session),
			rec.Condition,
			strconv.Itoa(rec.Repetition),
			strconv.Itoa(rec.OnsetCount),
			rec.Name,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadTrialLog loads a trial log written by WriteTrialLog
func ReadTrialLog(path string) ([]models.TrialRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trial log %s: %w", path, models.ErrMissingInput)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing trial log: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("trial log %s has no header: %w", path, models.ErrInvalidInput)
	}

	records := make([]models.TrialRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(trialLogHeader) {
			return nil, fmt.Errorf("trial log row %d has %d fields: %w", i+1, len(row), models.ErrInvalidInput)
		}
		var ints [4]int
		for j, col := range []int{0, 1, 3, 4} {
			if ints[j], err = strconv.Atoi(row[col]); err != nil {
				return nil, fmt.Errorf("trial log row %d: %v: %w", i+1, err, models.ErrInvalidInput)
			}
		}
		records = append(records, models.TrialRecord{
			Trial:      ints[0],
			Session:    ints[1],
			Condition:  row[2],
			Repetition: ints[2],
			OnsetCount: ints[3],
			Name:       row[5],
		})
	}
	return records, nil
}
