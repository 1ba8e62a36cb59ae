// Package domain defines the cycle-tracking model and the profile and log workflows.
package domain

import (
	"context"
	"errors"
	"strings"
)

// Service orchestrates profile and symptom log workflows over the document store.
type Service struct {
	profiles ProfileStore
	logs     LogStore
}

// NewService constructs a Service.
func NewService(profiles ProfileStore, logs LogStore) *Service {
	return &Service{profiles: profiles, logs: logs}
}

// OnboardingInput captures the onboarding quiz submission.
type OnboardingInput struct {
	Identity         Identity
	Name             string
	Age              LooseInt
	CycleLength      LooseInt
	HealthConditions string
}

// Validate ensures the submission can produce a usable profile.
func (in OnboardingInput) Validate() error {
	if strings.TrimSpace(in.Identity.UID) == "" {
		return errors.New("uid is required")
	}
	if _, ok := in.Age.PositiveInt(); !ok {
		return errors.New("age must be a positive integer")
	}
	if strings.TrimSpace(string(in.CycleLength)) != "" {
		if _, ok := in.CycleLength.PositiveInt(); !ok {
			return errors.New("cycleLength must be a positive integer")
		}
	}
	return nil
}

// CompleteOnboarding builds the profile and fully replaces any previous one.
func (s *Service) CompleteOnboarding(ctx context.Context, in OnboardingInput) (*UserProfile, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.Identity.DisplayName
	}
	profile := UserProfile{
		UID:              in.Identity.UID,
		Name:             name,
		Email:            in.Identity.Email,
		Age:              in.Age,
		CycleLength:      in.CycleLength,
		HealthConditions: strings.TrimSpace(in.HealthConditions),
		Gender:           GenderFemale,
	}
	if err := s.profiles.PutProfile(ctx, profile.UID, profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfile fetches the profile, returning ErrProfileMissing when absent.
func (s *Service) GetProfile(ctx context.Context, uid string) (*UserProfile, error) {
	profile, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrProfileMissing
	}
	return profile, nil
}

// LogSymptoms merge-writes a partial entry under dateKey.
func (s *Service) LogSymptoms(ctx context.Context, uid, dateKey string, patch LogPatch) error {
	if _, err := ParseDateKey(dateKey); err != nil {
		return err
	}
	return s.logs.MergeLog(ctx, uid, dateKey, patch)
}

// ListLogs returns the full log collection.
func (s *Service) ListLogs(ctx context.Context, uid string) (map[string]SymptomLogEntry, error) {
	return s.logs.GetAllLogs(ctx, uid)
}
