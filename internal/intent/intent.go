// Package intent recognises the local commands that are answered without
// calling a provider.
//
// Rules are evaluated in a fixed order and the first match wins. An utterance
// such as "hola, dime la hora" matches both the greeting and the time rule and
// always resolves to Greeting.
package intent

import (
	"strings"

	"golang.org/x/text/cases"
)

type Kind int

const (
	Unmatched Kind = iota
	ConfigureRequest
	Greeting
	TimeQuery
	DateQuery
	OpenBrowser
	Search
	Farewell
	Help
)

func (k Kind) String() string {
	switch k {
	case ConfigureRequest:
		return "configure"
	case Greeting:
		return "greeting"
	case TimeQuery:
		return "time"
	case DateQuery:
		return "date"
	case OpenBrowser:
		return "open_browser"
	case Search:
		return "search"
	case Farewell:
		return "farewell"
	case Help:
		return "help"
	default:
		return "unmatched"
	}
}

// Intent is the classified purpose of one utterance. Term is set for Search,
// Provider (the raw argument, possibly empty) for ConfigureRequest.
type Intent struct {
	Kind     Kind
	Term     string
	Provider string
}

// MissingTerm reports a search request with nothing to search for.
func (i Intent) MissingTerm() bool {
	return i.Kind == Search && i.Term == ""
}

func (i Intent) Local() bool {
	return i.Kind != Unmatched
}

// Rule is one entry of the classification table.
type Rule struct {
	Kind    Kind
	Match   func(normalized string) bool
	Extract func(normalized string) Intent
}

const (
	configurePrefix = "configurar"
	searchKeyword   = "buscar"
)

var (
	greetingWords = []string{"hola", "buenos días", "buenas tardes", "hey"}
	timeWords     = []string{"hora", "qué hora"}
	dateWords     = []string{"fecha", "qué día"}
	browserWords  = []string{"abrir navegador", "abre internet"}
	farewellWords = []string{"adiós", "hasta luego", "bye"}
	helpWords     = []string{"ayuda", "qué puedes hacer"}
)

var rules = []Rule{
	{Kind: ConfigureRequest, Match: isConfigure, Extract: extractConfigure},
	{Kind: Greeting, Match: containsAny(greetingWords)},
	{Kind: TimeQuery, Match: containsAny(timeWords)},
	{Kind: DateQuery, Match: containsAny(dateWords)},
	{Kind: OpenBrowser, Match: containsAny(browserWords)},
	{Kind: Search, Match: isSearch, Extract: extractSearch},
	{Kind: Farewell, Match: containsAny(farewellWords)},
	{Kind: Help, Match: containsAny(helpWords)},
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify resolves utterance against the rule table.
func Classify(utterance string) Intent {
	normalized := Normalize(utterance)
	if normalized == "" {
		return Intent{Kind: Unmatched}
	}
	for _, r := range rules {
		if !r.Match(normalized) {
			continue
		}
		if r.Extract != nil {
			return r.Extract(normalized)
		}
		return Intent{Kind: r.Kind}
	}
	return Intent{Kind: Unmatched}
}

// Normalize case-folds and trims an utterance.
func Normalize(utterance string) string {
	return strings.TrimSpace(cases.Fold().String(utterance))
}

func containsAny(words []string) func(string) bool {
	return func(s string) bool {
		for _, w := range words {
			if strings.Contains(s, w) {
				return true
			}
		}
		return false
	}
}

func isConfigure(s string) bool {
	return strings.HasPrefix(s, configurePrefix)
}

func extractConfigure(s string) Intent {
	fields := strings.Fields(s)
	in := Intent{Kind: ConfigureRequest}
	if len(fields) >= 2 {
		in.Provider = fields[1]
	}
	return in
}

func isSearch(s string) bool {
	return s == searchKeyword || strings.HasPrefix(s, searchKeyword+" ")
}

func extractSearch(s string) Intent {
	return Intent{Kind: Search, Term: strings.TrimSpace(strings.TrimPrefix(s, searchKeyword))}
}
