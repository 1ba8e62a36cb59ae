package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/store/memory"
)

func TestCompleteOnboardingReplacesProfile(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	service := domain.NewService(store, store)

	identity := domain.Identity{UID: "user-1", Email: "a@example.com", DisplayName: "Google Name"}
	_, err := service.CompleteOnboarding(ctx, domain.OnboardingInput{
		Identity:         identity,
		Name:             "Asha",
		Age:              "24",
		CycleLength:      "28",
		HealthConditions: "PCOS",
	})
	require.NoError(t, err)

	profile, err := service.CompleteOnboarding(ctx, domain.OnboardingInput{
		Identity:    identity,
		Age:         "25",
		CycleLength: "30",
	})
	require.NoError(t, err)
	require.Equal(t, "Google Name", profile.Name)
	require.Equal(t, domain.GenderFemale, profile.Gender)

	stored, err := service.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "Google Name", stored.Name)
	require.Empty(t, stored.HealthConditions, "onboarding must not merge previous fields")
	require.Equal(t, domain.LooseInt("30"), stored.CycleLength)
}

func TestCompleteOnboardingValidates(t *testing.T) {
	store := memory.NewStore()
	service := domain.NewService(store, store)

	_, err := service.CompleteOnboarding(context.Background(), domain.OnboardingInput{
		Identity: domain.Identity{UID: "user-1"},
		Age:      "abc",
	})
	require.Error(t, err)

	_, err = service.CompleteOnboarding(context.Background(), domain.OnboardingInput{
		Identity:    domain.Identity{UID: "user-1"},
		Age:         "30",
		CycleLength: "-2",
	})
	require.Error(t, err)
}

func TestGetProfileMissing(t *testing.T) {
	store := memory.NewStore()
	service := domain.NewService(store, store)

	_, err := service.GetProfile(context.Background(), "nobody")
	require.True(t, errors.Is(err, domain.ErrProfileMissing))
}

func TestLogSymptomsRejectsMalformedKey(t *testing.T) {
	store := memory.NewStore()
	service := domain.NewService(store, store)

	mood := "ok"
	err := service.LogSymptoms(context.Background(), "user-1", "someday", domain.LogPatch{Mood: &mood})
	require.ErrorIs(t, err, domain.ErrMalformedLogKey)

	logs, err := service.ListLogs(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, logs)
}
