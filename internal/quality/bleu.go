package quality

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxNGram is the longest n-gram BLEU considers.
const MaxNGram = 4

// Normalize prepares text for scoring: NFKC folds width variants and
// whitespace is removed.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, norm.NFKC.String(s))
}

// BLEU scores candidate against the references with character n-grams up
// to MaxNGram, clipped counts and the brevity penalty. Texts shorter than
// MaxNGram use n-grams up to their own length. The score is in [0, 1].
func BLEU(references []string, candidate string) float64 {
	cand := []rune(candidate)
	if len(cand) == 0 || len(references) == 0 {
		return 0
	}
	refs := make([][]rune, len(references))
	for i, r := range references {
		refs[i] = []rune(r)
	}

	maxN := MaxNGram
	if len(cand) < maxN {
		maxN = len(cand)
	}

	logSum := 0.0
	for n := 1; n <= maxN; n++ {
		candCounts := ngrams(cand, n)
		maxRef := make(map[string]int)
		for _, ref := range refs {
			for g, c := range ngrams(ref, n) {
				if c > maxRef[g] {
					maxRef[g] = c
				}
			}
		}
		matched := 0
		for g, c := range candCounts {
			matched += min(c, maxRef[g])
		}
		if matched == 0 {
			return 0
		}
		logSum += math.Log(float64(matched) / float64(len(cand)-n+1))
	}

	return brevityPenalty(len(cand), closestLength(refs, len(cand))) * math.Exp(logSum/float64(maxN))
}

func ngrams(runes []rune, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(runes); i++ {
		counts[string(runes[i:i+n])]++
	}
	return counts
}

func closestLength(refs [][]rune, c int) int {
	best := len(refs[0])
	for _, r := range refs[1:] {
		d, bd := abs(len(r)-c), abs(best-c)
		if d < bd || (d == bd && len(r) < best) {
			best = len(r)
		}
	}
	return best
}

func brevityPenalty(c, r int) float64 {
	if c >= r {
		return 1
	}
	return math.Exp(1 - float64(r)/float64(c))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
