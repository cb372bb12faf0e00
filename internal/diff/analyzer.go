package diff

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Result classifies a revision's change relative to its parent.
type Result int

const (
	Unresolved Result = iota
	NoChange
	Interwiki
	WordTest1
	WordTest2
)

func (r Result) String() string {
	switch r {
	case NoChange:
		return "nochange"
	case Interwiki:
		return "interwiki"
	case WordTest1:
		return "wordtest1"
	case WordTest2:
		return "wordtest2"
	default:
		return "unresolved"
	}
}

// Signal is the outcome of a word-set comparison.
type Signal int

const (
	SignalNoMatch Signal = iota
	SignalNoChange
	SignalAddedSurvived
)

func (s Signal) String() string {
	switch s {
	case SignalNoChange:
		return "no change"
	case SignalAddedSurvived:
		return "added words survived"
	default:
		return "no match"
	}
}

var (
	// Tokens split on ASCII whitespace only; U+00A0 and other Unicode spaces stay inside a token.
	whitespaceRe = regexp.MustCompile(`[\t\n\v\f\r ]+`)
	markupRe     = regexp.MustCompile(`[\[\]{}|.,:;'"<>()\-–*]+`)
	lower        = cases.Lower(language.Und)
)

// Normalize lowercases s and trims surrounding whitespace.
func Normalize(s string) string {
	return strings.TrimSpace(lower.String(s))
}

// StripMarkup replaces runs of wiki markup and punctuation with a single space.
func StripMarkup(s string) string {
	return strings.TrimSpace(markupRe.ReplaceAllString(s, " "))
}

// Classify compares a revision's text with its parent's and with the page's current text.
// Callers must not pass placeholder text for a snapshot that could not be fetched; a missing
// snapshot means the revision is unresolved.
func Classify(parentText, oldText, latestText string) Result {
	parent := Normalize(parentText)
	old := Normalize(oldText)
	latest := Normalize(latestText)

	if old == parent {
		return NoChange
	}

	parent = StripInterwiki(parent)
	old = StripInterwiki(old)
	if old == parent {
		return Interwiki
	}

	if WordTest(parent, old, latest) == SignalNoChange {
		return WordTest1
	}

	parent, old, latest = StripMarkup(parent), StripMarkup(old), StripMarkup(latest)
	if WordTest(parent, old, latest) == SignalAddedSurvived {
		return WordTest2
	}
	return Unresolved
}

// ContentWords returns the word sets of the final word test in Classify: normalised text with
// interwiki links removed from parent and old, and markup removed from all three.
func ContentWords(parentText, oldText, latestText string) WordSets {
	parent := StripMarkup(StripInterwiki(Normalize(parentText)))
	old := StripMarkup(StripInterwiki(Normalize(oldText)))
	latest := StripMarkup(Normalize(latestText))
	return CompareWords(parent, old, latest)
}

// WordTest compares the whitespace-delimited token sets of three texts. Order and duplicates
// are ignored.
func WordTest(parentText, oldText, latestText string) Signal {
	w := CompareWords(parentText, oldText, latestText)
	switch {
	case len(w.Added) == 0 && len(w.Removed) == 0:
		return SignalNoChange
	case len(w.Survived) > 0:
		return SignalAddedSurvived
	default:
		return SignalNoMatch
	}
}

// WordSets holds the token-level differences between a revision and its parent.
type WordSets struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Survived []string `json:"survived"` // added tokens still present in the latest text
}

// CompareWords computes the added, removed and surviving token sets. Slices keep the order in
// which tokens first appear in their source text.
func CompareWords(parentText, oldText, latestText string) WordSets {
	parentWords, parentOrder := tokenSet(parentText)
	oldWords, oldOrder := tokenSet(oldText)
	latestWords, _ := tokenSet(latestText)

	var w WordSets
	for _, tok := range oldOrder {
		if !parentWords[tok] {
			w.Added = append(w.Added, tok)
			if latestWords[tok] {
				w.Survived = append(w.Survived, tok)
			}
		}
	}
	for _, tok := range parentOrder {
		if !oldWords[tok] {
			w.Removed = append(w.Removed, tok)
		}
	}
	return w
}

func tokenSet(s string) (map[string]bool, []string) {
	set := make(map[string]bool)
	var order []string
	for _, tok := range whitespaceRe.Split(s, -1) {
		if !set[tok] {
			set[tok] = true
			order = append(order, tok)
		}
	}
	return set, order
}
