package plans

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize collapses every whitespace run to a single space.
func Normalize(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// Fingerprint is the hex SHA-256 of the normalized content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// pathFingerprint identifies a written plan whose content could not be read.
func pathFingerprint(path string) string {
	sum := sha256.Sum256([]byte("path:" + path))
	return hex.EncodeToString(sum[:])
}

// PlanID derives a document id from a fingerprint.
func PlanID(fingerprint string) string {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	return "plan_" + fingerprint
}

// Terms splits text into its set of lowercase words of two or more runes.
func Terms(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	terms := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) >= 2 {
			terms[w] = true
		}
	}
	return terms
}

// Similarity is the Jaccard index of the two texts' term sets, in [0,1].
func Similarity(a, b string) float64 {
	return JaccardSimilarity(Terms(a), Terms(b))
}

// JaccardSimilarity returns |A∩B| / |A∪B|. Two empty sets are identical.
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}
	union := len(set1) + len(set2) - intersection
	return float64(intersection) / float64(union)
}
