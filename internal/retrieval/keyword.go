package retrieval

import (
	"sort"
	"strings"
)

// keywordFallbackCount is how many leading paragraphs are returned when no
// paragraph matches any query term.
const keywordFallbackCount = 3

// KeywordSearch scores transcript paragraphs by how many distinct query terms
// they contain and returns the topK best matches. When nothing matches, the
// first paragraphs are returned instead so the answer engine always has some
// context to work with. Returns [ErrNoContent] for an empty transcript.
func KeywordSearch(text, question string, topK int) ([]Passage, error) {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, ErrNoContent
	}

	terms := queryTerms(question)

	type scored struct {
		idx   int
		score int
	}
	var matches []scored
	for i, p := range paragraphs {
		lower := strings.ToLower(p)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{idx: i, score: score})
		}
	}

	if len(matches) == 0 {
		n := keywordFallbackCount
		if n > len(paragraphs) {
			n = len(paragraphs)
		}
		passages := make([]Passage, n)
		for i := 0; i < n; i++ {
			passages[i] = Passage{Text: paragraphs[i]}
		}
		return passages, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if topK > len(matches) {
		topK = len(matches)
	}
	passages := make([]Passage, topK)
	for i := 0; i < topK; i++ {
		passages[i] = Passage{
			Text:  paragraphs[matches[i].idx],
			Score: float64(matches[i].score),
		}
	}
	return passages, nil
}

// splitParagraphs breaks text on blank lines. A transcript without blank
// lines becomes a single paragraph.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// queryTerms extracts the distinct lowercase terms of the question.
func queryTerms(question string) []string {
	seen := map[string]struct{}{}
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}
