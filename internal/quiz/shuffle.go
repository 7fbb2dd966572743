package quiz

import (
	"hash/fnv"
	"math/rand"
)

// PresentationOrder returns the question order shown to the learner for one
// attempt. With ShuffleQuestions off this is the authored order. With it on,
// the permutation is seeded from the attempt ID so reloading mid-attempt
// reproduces the same order; grading is order-independent either way.
func (z Quiz) PresentationOrder(attemptID string) []Question {
	out := make([]Question, len(z.Questions))
	copy(out, z.Questions)
	if !z.Settings.ShuffleQuestions || len(out) < 2 {
		return out
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(z.ID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(attemptID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
