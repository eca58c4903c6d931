package container

import (
	"fmt"
	"math/rand"
)

// adjectives and nouns feed the auto-assigned names: an adjective/noun
// pair plus a numeric disambiguator once the pair space collides.
var adjectives = []string{
	"quiet", "swift", "grim", "bold", "amber", "sable", "wry", "steady",
	"keen", "dusky", "brisk", "hollow",
}

var nouns = []string{
	"baldur", "dagr", "eir", "freyja", "heimdall", "kvasir", "nanna",
	"njord", "skadi", "thor", "tyr", "yggdrasil",
}

// NameGenerator synthesizes a job name when a job is added without an
// explicit one.
type NameGenerator struct {
	rnd *rand.Rand
}

// NewNameGenerator builds a generator seeded from seed; callers pass a
// fixed seed in tests for deterministic name sequences.
func NewNameGenerator(seed int64) *NameGenerator {
	return &NameGenerator{rnd: rand.New(rand.NewSource(seed))}
}

// Next returns one candidate name. Callers are responsible for re-rolling
// on collision: each call reselects a random adjective/noun pair, and
// cycle carries the number of collisions already seen so the candidate
// stays fresh once the pair space runs dry.
func (g *NameGenerator) Next(cycle int) string {
	adj := adjectives[g.rnd.Intn(len(adjectives))]
	noun := nouns[g.rnd.Intn(len(nouns))]
	if cycle == 0 {
		return fmt.Sprintf("%s_%s", adj, noun)
	}
	return fmt.Sprintf("%s_%s_%d", adj, noun, cycle)
}
