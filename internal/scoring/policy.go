package scoring

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"peerprep/proctoring/internal/models"

	"gopkg.in/yaml.v3"
)

// DefaultVersion is the policy the service scores with unless told otherwise.
const DefaultVersion = "v1"

const (
	minScore = 0
	maxScore = 100
)

// embeds every versioned policy document at compile time
//
//go:embed policies/*.yaml
var policyFS embed.FS

// Policy maps event kinds to score penalties. A loaded policy is immutable and
// safe for concurrent use.
type Policy struct {
	Version   string
	BaseScore int
	weights   map[models.EventKind]int
}

type policyDocument struct {
	Version   string         `yaml:"version"`
	BaseScore int            `yaml:"base_score"`
	Weights   map[string]int `yaml:"weights"`
}

// LoadPolicy reads the embedded policy with the given version.
func LoadPolicy(version string) (*Policy, error) {
	if version == "" {
		version = DefaultVersion
	}
	data, err := policyFS.ReadFile("policies/" + version + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown scoring policy version %q: %w", version, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scoring policy: %w", err)
	}
	if strings.TrimSpace(doc.Version) == "" {
		return nil, errors.New("scoring policy has no version")
	}
	if doc.BaseScore <= minScore || doc.BaseScore > maxScore {
		return nil, fmt.Errorf("scoring policy %s: base_score must be in (0,100], got %d", doc.Version, doc.BaseScore)
	}

	weights := make(map[models.EventKind]int, len(doc.Weights))
	for raw, weight := range doc.Weights {
		kind, ok := models.ParseEventKind(raw)
		if !ok {
			return nil, fmt.Errorf("scoring policy %s: unknown event kind %q", doc.Version, raw)
		}
		if weight < 0 {
			return nil, fmt.Errorf("scoring policy %s: negative weight for %s", doc.Version, kind)
		}
		weights[kind] = weight
	}
	for _, kind := range models.EventKinds {
		if _, ok := weights[kind]; !ok {
			return nil, fmt.Errorf("scoring policy %s: missing weight for %s", doc.Version, kind)
		}
	}

	return &Policy{Version: doc.Version, BaseScore: doc.BaseScore, weights: weights}, nil
}

// MustLoadPolicy is LoadPolicy for embedded versions known to be valid.
func MustLoadPolicy(version string) *Policy {
	p, err := LoadPolicy(version)
	if err != nil {
		panic(err)
	}
	return p
}

// Weight is the penalty for one event of the given kind. Kinds outside the
// taxonomy cost nothing.
func (p *Policy) Weight(kind models.EventKind) int {
	return p.weights[kind]
}

// Score folds the whole history into a score clamped to [0,100]. Summation is
// commutative so the result is independent of event order.
func (p *Policy) Score(events []models.Event) int {
	score := p.BaseScore
	for _, e := range events {
		score -= p.Weight(e.Kind)
	}
	return clamp(score)
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
