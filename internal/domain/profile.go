package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// GenderFemale is the only gender recorded by onboarding.
const GenderFemale = "Female"

// UserProfile is the single per-user profile document written by onboarding.
type UserProfile struct {
	UID              string   `json:"uid"`
	Name             string   `json:"name,omitempty"`
	Email            string   `json:"email,omitempty"`
	Age              LooseInt `json:"age"`
	CycleLength      LooseInt `json:"cycleLength"`
	HealthConditions string   `json:"healthConditions,omitempty"`
	Gender           string   `json:"gender"`
}

// LooseInt holds an integer field that clients may send either as a JSON
// number or as a string (form inputs arrive as "28"). It is parsed on use.
type LooseInt string

// Int parses the value as a base-10 integer.
func (v LooseInt) Int() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(v)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// PositiveInt parses the value and reports whether it is > 0.
func (v LooseInt) PositiveInt() (int, bool) {
	n, ok := v.Int()
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

// UnmarshalJSON accepts numbers, strings and null.
func (v *LooseInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = LooseInt(s)
	default:
		*v = LooseInt(data)
	}
	return nil
}

// MarshalJSON writes parseable values as numbers and everything else as the
// original string so nothing the client sent is lost.
func (v LooseInt) MarshalJSON() ([]byte, error) {
	if n, ok := v.Int(); ok {
		return []byte(strconv.Itoa(n)), nil
	}
	if v == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}
