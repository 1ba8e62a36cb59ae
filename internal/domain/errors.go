package domain

import "errors"

var (
	// ErrProfileMissing means the user has not completed onboarding.
	ErrProfileMissing = errors.New("profile not found")
	// ErrInvalidCycleLength means the profile cycle length is missing, unparsable or not positive.
	ErrInvalidCycleLength = errors.New("invalid cycle length")
	// ErrPredictionServiceUnavailable covers transport failures, timeouts and non-2xx responses.
	ErrPredictionServiceUnavailable = errors.New("prediction service unavailable")
	// ErrContentSourceUnavailable is returned when the FAQ document cannot be fetched or parsed.
	ErrContentSourceUnavailable = errors.New("content source unavailable")
	// ErrStoreWriteFailed wraps document store write failures.
	ErrStoreWriteFailed = errors.New("store write failed")
	// ErrMalformedLogKey is returned for log keys that do not parse as a calendar date.
	ErrMalformedLogKey = errors.New("malformed log key")
)

// UserMessage renders a plain-language message for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProfileMissing):
		return "User profile not found. Please complete the quiz."
	case errors.Is(err, ErrInvalidCycleLength):
		return "Invalid cycle length in profile."
	case errors.Is(err, ErrPredictionServiceUnavailable):
		return "Connection to prediction server failed. Is it running?"
	case errors.Is(err, ErrContentSourceUnavailable):
		return "Could not load FAQs. Please check your connection and try again."
	case errors.Is(err, ErrStoreWriteFailed):
		return "Your changes could not be saved. Please try again."
	case errors.Is(err, ErrMalformedLogKey):
		return "That date could not be understood."
	default:
		return "Something went wrong. Please try again."
	}
}
