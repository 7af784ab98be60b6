package similarity

import (
	"context"
	"strings"
)

// Jaccard scores texts by word-set overlap. Cheap, dependency-free,
// and insensitive to word order or repetition.
type Jaccard struct{}

// Name identifies the backend in logs and stats.
func (Jaccard) Name() string { return "jaccard" }

// Score returns |A∩B| / |A∪B| over lowercased whitespace tokens.
// Two empty texts score 0: emptiness carries no signal of agreement.
func (Jaccard) Score(_ context.Context, a, b string) (float64, error) {
	sa, sb := wordSet(a), wordSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0, nil
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0, nil
	}
	return float64(inter) / float64(union), nil
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, w := range fields {
		set[w] = struct{}{}
	}
	return set
}
