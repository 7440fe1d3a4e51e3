package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/vitals/internal/storage"
	"github.com/runnerr0/vitals/internal/validation"
)

func TestValidateWeeklyLogUpdate(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, Options{Transactional: true})
	ctx := context.Background()

	row, err := c.AddWeeklyLog(ctx, roundTripInput())
	require.NoError(t, err)

	assert.NoError(t, ValidateWeeklyLogUpdate(ctx, store, row.ID, storage.Fields{"dau": "160"}))
	assert.ErrorIs(t, ValidateWeeklyLogUpdate(ctx, store, row.ID, storage.Fields{"retention_rate": 101}), validation.ErrValidation)
	assert.ErrorIs(t, ValidateWeeklyLogUpdate(ctx, store, row.ID, storage.Fields{"nps_score": -101}), validation.ErrValidation)
	assert.ErrorIs(t, ValidateWeeklyLogUpdate(ctx, store, row.ID, storage.Fields{"dau": "lots"}), storage.ErrInvalidValue)
	assert.ErrorIs(t, ValidateWeeklyLogUpdate(ctx, store, row.ID, storage.Fields{"version": 9}), storage.ErrUnknownField)
	assert.ErrorIs(t, ValidateWeeklyLogUpdate(ctx, store, "missing", storage.Fields{"dau": 1}), storage.ErrNotFound)
}

func TestValidateCohortRetentionUpdate(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, Options{Transactional: true})
	ctx := context.Background()

	row, err := c.AddCohortRetention(ctx, CohortRetentionInput{CohortSignupWeek: storage.MustParseDate("2024-01-07"), UserCount: 100})
	require.NoError(t, err)

	assert.NoError(t, ValidateCohortRetentionUpdate(ctx, store, row.ID, storage.Fields{"day_60_retention": 22.5}))
	assert.NoError(t, ValidateCohortRetentionUpdate(ctx, store, row.ID, storage.Fields{"day_90_retention": "null"}))
	assert.ErrorIs(t, ValidateCohortRetentionUpdate(ctx, store, row.ID, storage.Fields{"day_7_retention": 130}), validation.ErrValidation)
}
