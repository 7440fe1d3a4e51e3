package audit

import (
	"context"

	"github.com/runnerr0/vitals/internal/storage"
	"github.com/runnerr0/vitals/internal/validation"
)

// ValidateWeeklyLogUpdate checks the weekly log that applying updates to row
// id would produce against the WeeklyLogInput rules. Ingestion surfaces call
// it before UpdateWeeklyLog.
func ValidateWeeklyLogUpdate(ctx context.Context, store storage.Store, id string, updates storage.Fields) error {
	norm, err := storage.NormalizeFields(storage.TableWeeklyLogs, updates)
	if err != nil {
		return err
	}
	existing, err := store.GetWeeklyLog(ctx, id)
	if err != nil {
		return err
	}
	return validation.ValidateUpdate(&WeeklyLogInput{}, existing, norm)
}

// ValidateCohortRetentionUpdate is ValidateWeeklyLogUpdate for cohorts.
func ValidateCohortRetentionUpdate(ctx context.Context, store storage.Store, id string, updates storage.Fields) error {
	norm, err := storage.NormalizeFields(storage.TableCohortRetention, updates)
	if err != nil {
		return err
	}
	existing, err := store.GetCohortRetention(ctx, id)
	if err != nil {
		return err
	}
	return validation.ValidateUpdate(&CohortRetentionInput{}, existing, norm)
}
