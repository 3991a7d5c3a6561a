package narrator

import (
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	sentimentHalfLife = 2 * time.Minute

	exactOnlyBelow   = 4
	jaroWinklerMatch = 0.92
	phoneticJWFloor  = 0.80
)

var (
	complimentWords = []string{
		"awesome", "amazing", "brilliant", "genius", "great", "love", "nice",
		"cool", "good", "excellent", "fantastic", "impressive", "beautiful",
		"legend", "goat", "wonderful", "perfect", "smart", "clever", "thanks",
	}
	insultWords = []string{
		"stupid", "dumb", "idiot", "terrible", "awful", "useless", "trash",
		"garbage", "boring", "lame", "hate", "sucks", "worst", "pathetic",
		"clown", "broken", "slow", "bad", "cringe", "moron",
	}
)

type lexiconEntry struct {
	word      string
	primary   string
	secondary string
}

// Lexicon matches chat tokens against a word list, tolerating the playful
// misspellings viewers like to use.
type Lexicon struct {
	entries []lexiconEntry
}

// NewLexicon precomputes phonetic codes for words.
func NewLexicon(words []string) *Lexicon {
	l := &Lexicon{entries: make([]lexiconEntry, 0, len(words))}
	for _, w := range words {
		w = strings.ToLower(w)
		p, s := matchr.DoubleMetaphone(w)
		l.entries = append(l.entries, lexiconEntry{word: w, primary: p, secondary: s})
	}
	return l
}

// Match reports whether token is a word of l. Short tokens only match
// exactly. Longer ones also match on Jaro-Winkler similarity, or on a shared
// Double Metaphone code backed by a looser similarity floor.
func (l *Lexicon) Match(token string) bool {
	token = strings.ToLower(token)
	if token == "" {
		return false
	}
	var tp, ts string
	long := len([]rune(token)) >= exactOnlyBelow
	if long {
		tp, ts = matchr.DoubleMetaphone(token)
	}
	for _, e := range l.entries {
		if token == e.word {
			return true
		}
		if !long || len([]rune(e.word)) < exactOnlyBelow {
			continue
		}
		jw := matchr.JaroWinkler(token, e.word, false)
		if jw >= jaroWinklerMatch {
			return true
		}
		if jw >= phoneticJWFloor && codesOverlap(tp, ts, e.primary, e.secondary) {
			return true
		}
	}
	return false
}

func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range []string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || a == bs {
			return true
		}
	}
	return false
}

// Tokenize lower-cases text and splits it into letter runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Sentiment accumulates compliment and insult scores that halve every two
// minutes. It is safe for concurrent use.
type Sentiment struct {
	compliments *Lexicon
	insults     *Lexicon

	mu         sync.Mutex
	compliment float64
	insult     float64
	updated    time.Time
}

// NewSentiment returns a tracker using the built-in lexicons.
func NewSentiment() *Sentiment {
	return &Sentiment{
		compliments: NewLexicon(complimentWords),
		insults:     NewLexicon(insultWords),
	}
}

// Add scores text at now and returns how many compliment and insult tokens
// it contained.
func (s *Sentiment) Add(text string, now time.Time) (compliments, insults int) {
	for _, tok := range Tokenize(text) {
		switch {
		case s.compliments.Match(tok):
			compliments++
		case s.insults.Match(tok):
			insults++
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decay(now)
	s.compliment += float64(compliments)
	s.insult += float64(insults)
	return compliments, insults
}

// Scores returns the decayed compliment and insult scores at now.
func (s *Sentiment) Scores(now time.Time) (compliments, insults float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decay(now)
	return s.compliment, s.insult
}

func (s *Sentiment) decay(now time.Time) {
	if !s.updated.IsZero() && now.After(s.updated) {
		f := math.Pow(0.5, float64(now.Sub(s.updated))/float64(sentimentHalfLife))
		s.compliment *= f
		s.insult *= f
	}
	if now.After(s.updated) {
		s.updated = now
	}
}
