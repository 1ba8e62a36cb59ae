package domain

// PredictionRequest is the body sent to the prediction service.
type PredictionRequest struct {
	LastPeriodDate     string `json:"lastPeriodDate"`
	AverageCycleLength int    `json:"averageCycleLength"`
}

// PredictionResult is the ephemeral forecast returned by the prediction service.
type PredictionResult struct {
	NextPeriodDate     string `json:"nextPeriodDate"`
	OvulationDate      string `json:"ovulationDate"`
	FertileWindowStart string `json:"fertileWindowStart"`
}
