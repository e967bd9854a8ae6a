package entity

import "math"

// Assignment event names.
const (
	EventAssignEntity   = "assignEntity"
	EventChooseProperty = "chooseProperty"
	EventChooseEntity   = "chooseEntity"
)

// UtteranceName is the synthetic entity spanning the whole utterance.
const UtteranceName = "utterance"

// Span identifies the top-level recognition an entity was found under.
type Span struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Info is one recognized span of the utterance.
type Info struct {
	Name           string  `json:"name"`
	Value          any     `json:"value,omitempty"`
	Operation      string  `json:"operation,omitempty"`
	Property       string  `json:"property,omitempty"`
	Start          int     `json:"start"`
	End            int     `json:"end"`
	Score          float64 `json:"score"`
	Text           string  `json:"text"`
	Type           string  `json:"type,omitempty"`
	Role           string  `json:"role,omitempty"`
	Priority       int     `json:"priority"`
	Coverage       float64 `json:"coverage"`
	WhenRecognized int     `json:"whenRecognized"`
	Root           Span    `json:"root"`
}

// Len returns the span length.
func (e *Info) Len() int { return e.End - e.Start }

// Overlaps reports whether the spans intersect. Identical spans always
// overlap, including empty ones.
func (e *Info) Overlaps(o *Info) bool {
	if e.Start == o.Start && e.End == o.End {
		return true
	}
	return e.Start < o.End && o.Start < e.End
}

// Alternative reports whether both spans are identical.
func (e *Info) Alternative(o *Info) bool {
	return e.Start == o.Start && e.End == o.End
}

// Covers reports whether e strictly contains o and is longer.
func (e *Info) Covers(o *Info) bool {
	return e.Start <= o.Start && e.End >= o.End && e.Len() > o.Len()
}

// SharesRoot reports whether both came from the same top-level recognition.
func (e *Info) SharesRoot(o *Info) bool {
	return e.Root == o.Root
}

// Utterance returns the synthetic entity covering all of text.
func Utterance(text string, turn int) *Info {
	return &Info{
		Name:           UtteranceName,
		Value:          text,
		Start:          0,
		End:            len(text),
		Text:           text,
		Type:           "string",
		Priority:       math.MaxInt,
		Coverage:       1.0,
		WhenRecognized: turn,
		Root:           Span{Name: UtteranceName, Start: 0, End: len(text)},
	}
}
