package settings

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// ResolveVoice maps a user-typed voice name onto one of the known voices.
// An exact (case-insensitive) match wins, otherwise the best fuzzy match.
// With no known voices the query is taken as-is.
func ResolveVoice(query string, known []string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyVoice
	}
	if len(known) == 0 {
		return query, nil
	}

	for _, k := range known {
		if strings.EqualFold(k, query) {
			return k, nil
		}
	}

	matches := fuzzy.Find(query, known)
	if len(matches) == 0 {
		return "", fmt.Errorf("unknown voice %q (known: %s)", query, strings.Join(known, ", "))
	}
	return matches[0].Str, nil
}
