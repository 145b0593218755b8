package emotion

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultThreshold is the smallest scaled probability that survives ranking.
// Entries at or below it are treated as numerical noise.
const DefaultThreshold = 0.0001

// ErrOutputShape is returned when a probability vector does not have exactly
// one entry per label.
var ErrOutputShape = errors.New("classifier output shape mismatch")

// Prediction is one labelled probability in percent
type Prediction struct {
	Emotion     Label   `json:"emotion"`
	Probability float64 `json:"probability"`
}

// Glyph returns the display emoji for the prediction's label
func (p Prediction) Glyph() string {
	return p.Emotion.Glyph()
}

// Ranked is a prediction list sorted by descending probability
type Ranked []Prediction

// Top returns the most probable prediction
func (r Ranked) Top() (Prediction, bool) {
	if len(r) == 0 {
		return Prediction{}, false
	}
	return r[0], true
}

// Ranker turns raw classifier vectors into Ranked results
type Ranker struct {
	Threshold float64
}

// NewRanker creates a ranker with the default visibility threshold
func NewRanker() Ranker {
	return Ranker{Threshold: DefaultThreshold}
}

// Rank labels, scales, filters and sorts a raw [0,1] probability vector
func (r Ranker) Rank(raw []float32) (Ranked, error) {
	if len(raw) != NumLabels {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrOutputShape, NumLabels, len(raw))
	}

	preds := make([]Prediction, 0, NumLabels)
	for i, p := range raw {
		preds = append(preds, Prediction{
			Emotion:     Label(i),
			Probability: float64(p) * 100,
		})
	}

	return r.Sort(preds), nil
}

// Sort drops entries at or below the threshold and stable-sorts the rest by
// descending probability. Sorting an already ranked list returns it unchanged.
func (r Ranker) Sort(preds []Prediction) Ranked {
	kept := make(Ranked, 0, len(preds))
	for _, p := range preds {
		if p.Probability > r.Threshold {
			kept = append(kept, p)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Probability > kept[j].Probability
	})

	return kept
}
