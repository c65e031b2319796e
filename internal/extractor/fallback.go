package extractor

const analysisFailedWarning = "AI analysis failed"

// Empty is the well-formed result returned when analysis cannot run at all
// or fails for every chunk.
func Empty(lessonID string) Result {
	return Result{
		LessonID:   lessonID,
		Records:    []SinkRecord{},
		Normalized: []NormalizedRecord{},
		TypeCounts: zeroCounts(),
		Warnings:   []string{analysisFailedWarning},
	}
}

// Failed reports whether r is the empty fallback.
func (r Result) Failed() bool {
	return len(r.Records) == 0 && len(r.Warnings) == 1 && r.Warnings[0] == analysisFailedWarning
}
