package domain

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Cohort is an age-derived personalization bucket.
type Cohort string

const (
	CohortGeneral        Cohort = "general"
	CohortAdolescents    Cohort = "adolescents"
	CohortYoungAdults    Cohort = "youngAdults"
	CohortAdults         Cohort = "adults"
	CohortMature         Cohort = "mature"
	CohortPostMenopausal Cohort = "postMenopausal"
)

// cohortRanges is consulted in order; bounds are inclusive. Stored ages too
// large for an int saturate to math.MaxInt and land in the last range.
var cohortRanges = []struct {
	cohort   Cohort
	min, max int
}{
	{CohortAdolescents, 10, 19},
	{CohortYoungAdults, 20, 29},
	{CohortAdults, 30, 39},
	{CohortMature, 40, 49},
	{CohortPostMenopausal, 50, math.MaxInt},
}

// ClassifyAge maps an age to its cohort. Ages outside every range map to general.
func ClassifyAge(age int) Cohort {
	for _, r := range cohortRanges {
		if age >= r.min && age <= r.max {
			return r.cohort
		}
	}
	return CohortGeneral
}

// ClassifyAgeValue classifies a stored age field; unparsable values map to
// general. Out-of-range integers saturate rather than count as unparsable.
func ClassifyAgeValue(age LooseInt) Cohort {
	n, err := strconv.Atoi(strings.TrimSpace(string(age)))
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return CohortGeneral
	}
	return ClassifyAge(n)
}
