package domain

import "context"

// Identity is the signed-in user as reported by the auth provider.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// IdentitySource emits identity changes. A nil identity means signed out.
// The returned function stops further notifications.
type IdentitySource interface {
	OnIdentityChange(fn func(*Identity)) (unsubscribe func())
}

// ProfileStore reads and fully replaces the per-user profile document.
// GetProfile returns (nil, nil) when no profile exists.
type ProfileStore interface {
	GetProfile(ctx context.Context, uid string) (*UserProfile, error)
	PutProfile(ctx context.Context, uid string, profile UserProfile) error
}

// ProfileFeed reports replacements of a user's profile document. fn runs once
// per committed PutProfile for uid, in commit order; there is no initial
// event. Once the returned unsubscribe function returns, fn is not invoked
// again.
type ProfileFeed interface {
	SubscribeProfile(ctx context.Context, uid string, fn func()) (unsubscribe func(), err error)
}

// LogStore exposes the per-user symptom log collection.
//
// SubscribeLogs delivers an initial snapshot followed by one snapshot per
// committed write, in commit order. Once the returned unsubscribe function
// returns, fn is not invoked again. fn must not call unsubscribe itself.
type LogStore interface {
	SubscribeLogs(ctx context.Context, uid string, fn func(LogSnapshot)) (unsubscribe func(), err error)
	GetAllLogs(ctx context.Context, uid string) (map[string]SymptomLogEntry, error)
	MergeLog(ctx context.Context, uid, dateKey string, patch LogPatch) error
}

// Predictor performs a single request/response exchange with the prediction service.
type Predictor interface {
	Predict(ctx context.Context, req PredictionRequest) (PredictionResult, error)
}
