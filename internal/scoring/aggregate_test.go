package scoring

import (
	"math/rand"
	"testing"

	"peerprep/proctoring/internal/models"

	"github.com/stretchr/testify/assert"
)

func object(class any) models.Event {
	e := models.Event{Kind: models.KindSuspiciousObject}
	if class != nil {
		e.Payload = map[string]any{"class": class}
	}
	return e
}

func TestFocusCounts(t *testing.T) {
	history := []models.Event{
		{Kind: models.KindFocusLost, Payload: map[string]any{"focusLostDuration": float64(1200)}},
		{Kind: models.KindFocusLost, Payload: map[string]any{"focusLostDuration": int64(4500)}},
		{Kind: models.KindFocusLost},
		{Kind: models.KindNoFace},
		{Kind: models.KindMultipleFaces},
		{Kind: models.KindMultipleFaces},
		{Kind: models.KindEyeClosure},
		object("book"),
	}

	agg := Focus(history)
	assert.Equal(t, models.FocusAggregate{
		TotalFocusLoss:         3,
		MaxFocusLossDurationMs: 4500,
		NoFaceInstances:        1,
		MultipleFaceInstances:  2,
		EyeClosureInstances:    1,
	}, agg)
}

func TestObjectsDistinctSorted(t *testing.T) {
	history := []models.Event{
		object("laptop"),
		object("cell phone"),
		object("laptop"),
		object(nil),
		object(""),
		object(42),
		{Kind: models.KindNoFace, Payload: map[string]any{"class": "ignored"}},
	}

	agg := Objects(history)
	assert.Equal(t, []string{"cell phone", "laptop"}, agg.SuspiciousObjectsDetected)
	assert.Equal(t, 6, agg.TotalSuspiciousDetections)
}

func TestObjectsEmptyHistory(t *testing.T) {
	agg := Objects(nil)
	assert.NotNil(t, agg.SuspiciousObjectsDetected)
	assert.Empty(t, agg.SuspiciousObjectsDetected)
	assert.Zero(t, agg.TotalSuspiciousDetections)
}

func TestSummarizeScenario(t *testing.T) {
	p := MustLoadPolicy(DefaultVersion)
	history := []models.Event{
		{Kind: models.KindNoFace},
		object("cell phone"),
	}

	s := Summarize(p, history)
	assert.Equal(t, 70, s.IntegrityScore)
	assert.Equal(t, "v1", s.PolicyVersion)
	assert.Equal(t, 1, s.Focus.NoFaceInstances)
	assert.Equal(t, []string{"cell phone"}, s.Objects.SuspiciousObjectsDetected)
	assert.Equal(t, 1, s.Objects.TotalSuspiciousDetections)
}

func TestSummarizeIsPermutationInvariant(t *testing.T) {
	p := MustLoadPolicy(DefaultVersion)
	history := []models.Event{
		object("book"),
		{Kind: models.KindFocusLost, Payload: map[string]any{"focusLostDuration": float64(900)}},
		object("cell phone"),
		{Kind: models.KindEyeClosure},
		{Kind: models.KindFocusLost, Payload: map[string]any{"focusLostDuration": float64(3000)}},
		object("book"),
		{Kind: models.KindNoFace},
	}
	want := Summarize(p, history)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.Event(nil), history...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Summarize(p, shuffled))
	}
}
