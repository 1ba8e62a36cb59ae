package content

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/observability"
)

// DefaultAge personalizes content for signed-out users and users without a profile.
const DefaultAge = 25

// FallbackEntry is shown in place of the list when the document cannot be loaded.
var FallbackEntry = FAQ{
	Question: "Error",
	Answer:   "Could not load FAQs. Please check your connection and try again.",
}

// Selection is the personalized result for one user.
type Selection struct {
	Cohort  domain.Cohort `json:"cohort"`
	Entries []FAQ         `json:"entries"`
	Err     error         `json:"-"`
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDefaultAge overrides DefaultAge.
func WithDefaultAge(age int) ServiceOption {
	return func(s *Service) {
		s.defaultAge = age
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service resolves a user's cohort and selects their entries.
type Service struct {
	source     Source
	profiles   domain.ProfileStore
	defaultAge int
	logger     *zap.Logger
}

// NewService constructs a Service.
func NewService(source Source, profiles domain.ProfileStore, opts ...ServiceOption) *Service {
	s := &Service{
		source:     source,
		profiles:   profiles,
		defaultAge: DefaultAge,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForUser returns the entries for uid, or for the default age when uid is
// empty or has no profile. The result always holds at least one entry: on
// failure it is FallbackEntry and Err is set.
func (s *Service) ForUser(ctx context.Context, uid string) Selection {
	cohort, err := s.cohortFor(ctx, uid)
	if err != nil {
		return s.fail(uid, cohort, err)
	}

	doc, err := s.source.Fetch(ctx)
	if err != nil {
		return s.fail(uid, cohort, err)
	}

	entries, ok := Select(doc, cohort)
	if !ok {
		return s.fail(uid, cohort, fmt.Errorf("%w: no entries for cohort %q", domain.ErrContentSourceUnavailable, cohort))
	}
	return Selection{Cohort: cohort, Entries: entries}
}

func (s *Service) cohortFor(ctx context.Context, uid string) (domain.Cohort, error) {
	if uid == "" {
		return domain.ClassifyAge(s.defaultAge), nil
	}
	profile, err := s.profiles.GetProfile(ctx, uid)
	if err != nil {
		return domain.CohortGeneral, fmt.Errorf("%w: load profile: %v", domain.ErrContentSourceUnavailable, err)
	}
	if profile == nil {
		return domain.ClassifyAge(s.defaultAge), nil
	}
	return domain.ClassifyAgeValue(profile.Age), nil
}

func (s *Service) fail(uid string, cohort domain.Cohort, err error) Selection {
	observability.RecordContentFailure()
	s.logger.Warn("faq selection failed", zap.String("uid", uid), zap.Error(err))
	return Selection{Cohort: cohort, Entries: []FAQ{FallbackEntry}, Err: err}
}
