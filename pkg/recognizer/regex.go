package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Definition configures a Regex recognizer.
type Definition struct {
	Intents  []IntentDefinition `yaml:"intents"  json:"intents"`
	Entities []EntityDefinition `yaml:"entities" json:"entities"`
}

// IntentDefinition matches an intent by regular expression or keyword.
type IntentDefinition struct {
	Name     string   `yaml:"name"     json:"name"`
	Patterns []string `yaml:"patterns" json:"patterns,omitempty"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
}

// EntityDefinition extracts an entity by regular expression or from a list
// of canonical values and their synonyms. When a pattern has a capture
// group, the first group is the entity.
type EntityDefinition struct {
	Name    string              `yaml:"name"    json:"name"`
	Pattern string              `yaml:"pattern" json:"pattern,omitempty"`
	Values  map[string][]string `yaml:"values"  json:"values,omitempty"`
	Type    string              `yaml:"type"    json:"type,omitempty"` // "number" parses the value
	Role    string              `yaml:"role"    json:"role,omitempty"`
}

// LoadDefinition reads a YAML or JSON definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recognizer definition %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse recognizer definition %s: %w", path, err)
	}
	return &def, nil
}

type compiledIntent struct {
	name     string
	patterns []*regexp.Regexp
	keywords [][]string
}

type compiledEntity struct {
	def      EntityDefinition
	pattern  *regexp.Regexp
	synonyms []synonym
}

type synonym struct {
	tokens    []string
	canonical []any
}

// Regex is a rule-based recognizer. Keyword and list matching ignore case
// and diacritics; spans always refer to the original text.
type Regex struct {
	intents  []compiledIntent
	entities []compiledEntity
}

// NewRegex compiles a definition.
func NewRegex(def *Definition) (*Regex, error) {
	r := &Regex{}
	for _, in := range def.Intents {
		ci := compiledIntent{name: in.Name}
		for _, p := range in.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("intent %q: %w", in.Name, err)
			}
			ci.patterns = append(ci.patterns, re)
		}
		for _, k := range in.Keywords {
			if toks := foldFields(k); len(toks) > 0 {
				ci.keywords = append(ci.keywords, toks)
			}
		}
		r.intents = append(r.intents, ci)
	}

	for _, en := range def.Entities {
		ce := compiledEntity{def: en}
		if en.Pattern != "" {
			re, err := regexp.Compile("(?i)" + en.Pattern)
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", en.Name, err)
			}
			ce.pattern = re
		}
		ce.synonyms = buildSynonyms(en.Values)
		r.entities = append(r.entities, ce)
	}
	return r, nil
}

// buildSynonyms maps every folded phrase to the canonical values it can
// stand for. A phrase shared by several canonical values stays ambiguous.
func buildSynonyms(values map[string][]string) []synonym {
	byPhrase := map[string]*synonym{}
	var order []string
	add := func(phrase, canonical string) {
		toks := foldFields(phrase)
		if len(toks) == 0 {
			return
		}
		key := strings.Join(toks, " ")
		s, ok := byPhrase[key]
		if !ok {
			s = &synonym{tokens: toks}
			byPhrase[key] = s
			order = append(order, key)
		}
		for _, c := range s.canonical {
			if c == canonical {
				return
			}
		}
		s.canonical = append(s.canonical, canonical)
	}

	canonicals := make([]string, 0, len(values))
	for c := range values {
		canonicals = append(canonicals, c)
	}
	slices.Sort(canonicals)
	for _, c := range canonicals {
		add(c, c)
		for _, syn := range values[c] {
			add(syn, c)
		}
	}

	out := make([]synonym, 0, len(order))
	for _, k := range order {
		out = append(out, *byPhrase[k])
	}
	return out
}

// Recognize implements Recognizer.
func (r *Regex) Recognize(_ context.Context, req Request) (*Result, error) {
	text := req.Text
	toks := tokenize(text)
	res := &Result{Text: text, Intents: map[string]IntentScore{}}

	for _, in := range r.intents {
		best := 0.0
		for _, re := range in.patterns {
			if loc := re.FindStringIndex(text); loc != nil {
				best = max(best, score(loc[1]-loc[0], len(text)))
			}
		}
		for _, kw := range in.keywords {
			for _, m := range matchTokens(toks, kw) {
				best = max(best, score(m[1]-m[0], len(text)))
			}
		}
		if best > 0 {
			res.Intents[in.name] = IntentScore{Score: best}
		}
	}
	if len(res.Intents) == 0 {
		res.Intents[NoneIntent] = IntentScore{Score: 1}
	}

	set := NewEntitySet()
	for _, ce := range r.entities {
		if ce.pattern != nil {
			for _, m := range ce.pattern.FindAllStringSubmatchIndex(text, -1) {
				start, end := m[0], m[1]
				if len(m) >= 4 && m[2] >= 0 {
					start, end = m[2], m[3]
				}
				if start == end {
					continue
				}
				ce.add(set, text, text[start:end], start, end)
			}
		}
		for _, syn := range ce.synonyms {
			for _, m := range matchTokens(toks, syn.tokens) {
				var value any = syn.canonical
				if len(syn.canonical) == 1 {
					value = syn.canonical[0]
				}
				ce.addValue(set, text, value, m[0], m[1])
			}
		}
	}
	if set.Len() > 0 {
		raw, err := json.Marshal(set)
		if err != nil {
			return nil, fmt.Errorf("marshal entities: %w", err)
		}
		res.Entities = raw
	}
	return res, nil
}

func (ce compiledEntity) add(set *EntitySet, text, match string, start, end int) {
	var value any = match
	if ce.def.Type == "number" {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64); err == nil {
			value = f
		}
	}
	ce.addValue(set, text, value, start, end)
}

func (ce compiledEntity) addValue(set *EntitySet, text string, value any, start, end int) {
	typ := ce.def.Type
	if typ == "" {
		typ = ce.def.Name
	}
	set.Add(ce.def.Name, value, Instance{
		StartIndex: start,
		EndIndex:   end,
		Text:       text[start:end],
		Type:       typ,
		Score:      1,
		Role:       ce.def.Role,
	})
}

func score(matched, total int) float64 {
	if total == 0 {
		return 0.5
	}
	return 0.5 + 0.5*float64(matched)/float64(total)
}

type token struct {
	folded     string
	start, end int
}

// fold lowercases s and strips combining marks. Transformers carry state,
// so each call builds its own chain.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// tokenize splits text into words, keeping byte offsets into text.
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, token{folded: fold(text[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{folded: fold(text[start:]), start: start, end: len(text)})
	}
	return toks
}

func foldFields(s string) []string {
	var out []string
	for _, t := range tokenize(s) {
		out = append(out, t.folded)
	}
	return out
}

// matchTokens returns the byte spans where phrase occurs as whole words.
func matchTokens(toks []token, phrase []string) [][2]int {
	var out [][2]int
	for i := 0; i+len(phrase) <= len(toks); i++ {
		ok := true
		for j, p := range phrase {
			if toks[i+j].folded != p {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, [2]int{toks[i].start, toks[i+len(phrase)-1].end})
		}
	}
	return out
}
