package listing

import (
	"context"
	"regexp"
	"strings"

	"github.com/eldtechnologies/campus/internal/metrics"
	"github.com/eldtechnologies/campus/internal/models"
)

var searchWordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopWords are common words to exclude from search
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"it": true, "that": true, "this": true, "with": true, "at": true,
	"by": true, "from": true, "as": true, "into": true, "like": true,
}

const maxSearchTokens = 5

// Tokenize extracts searchable words from text.
func Tokenize(text string) []string {
	words := searchWordRegex.FindAllString(strings.ToLower(text), -1)

	// Deduplicate and filter
	seen := make(map[string]bool)
	result := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) >= 2 && !seen[w] && !stopWords[w] {
			seen[w] = true
			result = append(result, w)
		}
	}

	if len(result) > maxSearchTokens {
		result = result[:maxSearchTokens]
	}
	return result
}

// Search finds approved listings of any kind whose title or body contains
// every token of query. The store narrows candidates by the longest token.
func (s *Service) Search(ctx context.Context, actor Actor, query string, f models.ListingFilter) ([]models.Listing, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []models.Listing{}, nil
	}
	metrics.SearchQueries.Inc()

	longest := tokens[0]
	for _, t := range tokens[1:] {
		if len(t) > len(longest) {
			longest = t
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	f.Query = longest
	f.Limit = 200
	f.Offset = 0
	candidates, err := s.List(ctx, actor, f)
	if err != nil {
		return nil, err
	}

	results := make([]models.Listing, 0, limit)
	for _, l := range candidates {
		text := strings.ToLower(l.Title + " " + l.Body)
		if containsAll(text, tokens) {
			results = append(results, l)
			if len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

func containsAll(text string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}
