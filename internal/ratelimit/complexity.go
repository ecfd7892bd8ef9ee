package ratelimit

import "strings"

// EstimateComplexity approximates the complexity cost Linear will
// charge for a GraphQL document: selected fields and nested objects,
// scaled by the requested page size. It is a deliberate approximation
// of the provider's accounting, not a replica; the limiter treats it
// as best effort and corrects from response headers afterwards.
func EstimateComplexity(query string, pageSize int) int {
	objects := strings.Count(query, "{")
	fields := countFields(query)

	if pageSize < 1 {
		pageSize = 1
	}

	cost := (objects + fields) * pageSize
	if cost < 1 {
		cost = 1
	}

	// Bound by Linear's per-call ceiling: anything the estimator would
	// price higher gets rejected by the API anyway.
	if cost > maxComplexityPerCall {
		cost = maxComplexityPerCall
	}

	return cost
}

// graphqlKeywords are tokens that select nothing and cost nothing.
var graphqlKeywords = map[string]struct{}{
	"query":    {},
	"mutation": {},
	"fragment": {},
	"on":       {},
	"true":     {},
	"false":    {},
	"null":     {},
}

// countFields counts identifier tokens in the document, skipping
// keywords, variable references, and directive names.
func countFields(query string) int {
	count := 0
	token := strings.Builder{}

	flush := func() {
		if token.Len() == 0 {
			return
		}
		word := token.String()
		token.Reset()
		if _, keyword := graphqlKeywords[word]; !keyword {
			count++
		}
	}

	skipNext := false
	for _, r := range query {
		switch {
		case r == '$' || r == '@':
			// Variables and directives are free.
			flush()
			skipNext = true
		case isIdentRune(r):
			if !skipNext {
				token.WriteRune(r)
			}
		default:
			skipNext = false
			flush()
		}
	}
	flush()

	return count
}

func isIdentRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
