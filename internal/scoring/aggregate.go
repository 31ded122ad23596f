package scoring

import (
	"sort"

	"peerprep/proctoring/internal/models"
)

// payload keys written by the browser detectors
const (
	payloadObjectClass       = "class"
	payloadFocusLostDuration = "focusLostDuration"
)

// Summary is everything finalize derives from an event history.
type Summary struct {
	Focus          models.FocusAggregate
	Objects        models.ObjectAggregate
	IntegrityScore int
	PolicyVersion  string
}

// Summarize derives aggregates and score from the full history.
func Summarize(policy *Policy, events []models.Event) Summary {
	return Summary{
		Focus:          Focus(events),
		Objects:        Objects(events),
		IntegrityScore: policy.Score(events),
		PolicyVersion:  policy.Version,
	}
}

func Focus(events []models.Event) models.FocusAggregate {
	var agg models.FocusAggregate
	for _, e := range events {
		switch e.Kind {
		case models.KindFocusLost:
			agg.TotalFocusLoss++
			if d, ok := e.PayloadNumber(payloadFocusLostDuration); ok && int64(d) > agg.MaxFocusLossDurationMs {
				agg.MaxFocusLossDurationMs = int64(d)
			}
		case models.KindNoFace:
			agg.NoFaceInstances++
		case models.KindMultipleFaces:
			agg.MultipleFaceInstances++
		case models.KindEyeClosure:
			agg.EyeClosureInstances++
		}
	}
	return agg
}

// Objects collects the distinct payload.class values, sorted so the result
// does not depend on arrival order. Missing, null and empty classes still
// count as detections.
func Objects(events []models.Event) models.ObjectAggregate {
	agg := models.ObjectAggregate{SuspiciousObjectsDetected: []string{}}
	seen := make(map[string]struct{})
	for _, e := range events {
		if e.Kind != models.KindSuspiciousObject {
			continue
		}
		agg.TotalSuspiciousDetections++
		class, ok := e.PayloadString(payloadObjectClass)
		if !ok {
			continue
		}
		if _, dup := seen[class]; dup {
			continue
		}
		seen[class] = struct{}{}
		agg.SuspiciousObjectsDetected = append(agg.SuspiciousObjectsDetected, class)
	}
	sort.Strings(agg.SuspiciousObjectsDetected)
	return agg
}
