package insight

import (
	"regexp"
	"strings"
	"unicode"
)

// Request kinds a classifier can recognize in a user message.
const (
	RequestDetail        = "detail"
	RequestCodeExample   = "code_example"
	RequestStepByStep    = "step_by_step"
	RequestFollowUp      = "follow_up"
	RequestClarification = "clarification"
)

// Classifier recognizes behavioral signals in individual messages. The
// extractor only counts and aggregates what a Classifier reports, so the
// vocabulary and phrase lists can be replaced without touching that logic.
type Classifier interface {
	// QuestionTypes returns the question labels matched by a user message.
	QuestionTypes(text string) []string
	// Topics returns the known topic words present in any message.
	Topics(text string) []string
	// Requests reports whether a user message asks for the given kind of answer.
	Requests(kind, text string) bool
}

// QuestionPattern labels user messages matching Pattern.
type QuestionPattern struct {
	Label   string
	Pattern *regexp.Regexp
}

// Heuristic is a keyword and phrase-list classifier.
type Heuristic struct {
	Questions []QuestionPattern
	// Vocabulary holds lowercase topic words matched as whole words.
	Vocabulary map[string]bool
	// Phrases maps a request kind to lowercase substrings that signal it.
	Phrases map[string][]string
	// FollowUpWindow limits follow-up phrase matching to the message prefix.
	FollowUpWindow int
}

// DefaultHeuristic returns the built-in taxonomy.
func DefaultHeuristic() *Heuristic {
	return &Heuristic{
		Questions: []QuestionPattern{
			{"how_to", regexp.MustCompile(`\bhow (do|can|to|would)\b`)},
			{"what_is", regexp.MustCompile(`\bwhat (is|are|was|were)\b`)},
			{"why", regexp.MustCompile(`\bwhy\b`)},
			{"when", regexp.MustCompile(`\bwhen\b`)},
			{"where", regexp.MustCompile(`\bwhere\b`)},
			{"explain", regexp.MustCompile(`\b(explain|describe|tell me about)\b`)},
			{"compare", regexp.MustCompile(`\b(compare|difference|versus|vs)\b`)},
			{"troubleshoot", regexp.MustCompile(`\b(error|problem|issue|fix|debug)\b`)},
		},
		Vocabulary: setOf(
			"python", "javascript", "react", "django", "api", "database",
			"frontend", "backend", "css", "html", "typescript", "node",
			"sql", "mongodb", "docker", "kubernetes", "aws", "git",
		),
		Phrases: map[string][]string{
			RequestDetail:        {"more detail", "elaborate", "explain more", "tell me more", "can you expand", "go deeper"},
			RequestCodeExample:   {"example", "code", "show me", "sample", "snippet", "how to implement", "demo"},
			RequestStepByStep:    {"step by step", "steps", "guide", "tutorial", "walk me through", "how do i"},
			RequestFollowUp:      {"also", "and", "what about", "how about", "additionally"},
			RequestClarification: {"what do you mean", "clarify", "i don't understand", "confused"},
		},
		FollowUpWindow: 50,
	}
}

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func (h *Heuristic) QuestionTypes(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, q := range h.Questions {
		if q.Pattern.MatchString(lower) {
			out = append(out, q.Label)
		}
	}
	return out
}

// Topics splits on whitespace and trims surrounding punctuation, so "Python?"
// matches but "node.js" and "react-native" do not.
func (h *Heuristic) Topics(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if h.Vocabulary[w] {
			out = append(out, w)
		}
	}
	return out
}

func (h *Heuristic) Requests(kind, text string) bool {
	lower := strings.ToLower(text)
	if kind == RequestFollowUp && h.FollowUpWindow > 0 {
		lower = prefixRunes(lower, h.FollowUpWindow)
	}
	for _, p := range h.Phrases[kind] {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
