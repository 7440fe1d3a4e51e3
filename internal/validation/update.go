package validation

import (
	"fmt"

	"github.com/runnerr0/vitals/internal/storage"
)

// ValidateUpdate checks the record that applying updates to current would
// produce. input points at the ingestion type carrying the rules for current
// (for example *audit.WeeklyLogInput); it is overwritten. updates must already
// be normalized with storage.NormalizeFields.
func ValidateUpdate(input, current any, updates storage.Fields) error {
	merged, err := storage.Snapshot(current)
	if err != nil {
		return err
	}
	for k, v := range updates {
		merged[k] = v
	}
	if err := storage.Apply(input, merged); err != nil {
		return fmt.Errorf("merge update: %w", err)
	}
	return ValidateStruct(input)
}
