package entity

import (
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	instanceKey    = "$instance"
	propertySuffix = "Property"
)

// Normalize walks a recognizer entity tree and returns the entities found,
// grouped by name. operations and properties are the schema's operation
// keywords and property names; turn stamps WhenRecognized.
//
// Occurrences without $instance metadata carry no span and are skipped.
func Normalize(text string, entities gjson.Result, operations, properties []string, turn int) map[string][]*Info {
	n := normalizer{
		text:       text,
		operations: operations,
		properties: properties,
		turn:       turn,
		out:        make(map[string][]*Info),
	}
	if entities.IsObject() {
		n.expand(entities, "", "", nil)
	}
	for name, list := range n.out {
		n.out[name] = RemoveCovered(list)
	}
	return n.out
}

// NormalizeJSON is Normalize over raw JSON.
func NormalizeJSON(text string, raw []byte, operations, properties []string, turn int) map[string][]*Info {
	return Normalize(text, gjson.ParseBytes(raw), operations, properties, turn)
}

// StripProperty removes the conventional "Property" suffix.
func StripProperty(name string) string {
	return strings.TrimSuffix(name, propertySuffix)
}

type normalizer struct {
	text       string
	operations []string
	properties []string
	turn       int
	out        map[string][]*Info
}

// composite reports whether v is a nested entity object rather than a
// structured value: composites carry their own $instance block.
func composite(v gjson.Result) bool {
	if !v.IsObject() {
		return false
	}
	_, ok := v.Map()[instanceKey]
	return ok
}

func hasEntries(v gjson.Result) bool {
	found := false
	v.ForEach(func(key, _ gjson.Result) bool {
		if !strings.HasPrefix(key.String(), "$") {
			found = true
			return false
		}
		return true
	})
	return found
}

// classify returns the operation or property a name stands for. Plain
// names only denote a property when they introduce a nested object, so a
// leaf entity named like its property keeps its value.
func (n *normalizer) classify(name string, nested bool) (op, prop string) {
	if slices.Contains(n.operations, name) {
		return name, ""
	}
	if strings.HasSuffix(name, propertySuffix) {
		if stripped := StripProperty(name); slices.Contains(n.properties, stripped) {
			return "", stripped
		}
	}
	if nested && slices.Contains(n.properties, name) {
		return "", name
	}
	return "", ""
}

func (n *normalizer) expand(obj gjson.Result, op, prop string, root *Span) {
	instances := obj.Map()[instanceKey].Map()

	obj.ForEach(func(key, val gjson.Result) bool {
		name := key.String()
		if strings.HasPrefix(name, "$") {
			return true
		}

		metas := instances[name].Array()
		for i, v := range val.Array() {
			var meta gjson.Result
			if i < len(metas) {
				meta = metas[i]
			}

			nested := composite(v)
			isOp, isProp := n.classify(name, nested)
			childOp, childProp := op, prop
			if isOp != "" {
				childOp = isOp
			}
			if isProp != "" {
				childProp = isProp
			}

			r := root
			if r == nil && hasSpan(meta) {
				r = &Span{Name: name, Start: int(meta.Get("startIndex").Int()), End: int(meta.Get("endIndex").Int())}
			}

			if nested && hasEntries(v) {
				n.expand(v, childOp, childProp, r)
				continue
			}

			var value any
			if isOp == "" && isProp == "" && !nested {
				value = v.Value()
			}
			n.add(name, value, childOp, childProp, meta, r)
		}
		return true
	})
}

func hasSpan(meta gjson.Result) bool {
	return meta.Get("startIndex").Exists() && meta.Get("endIndex").Exists()
}

func (n *normalizer) add(name string, value any, op, prop string, meta gjson.Result, root *Span) {
	if !hasSpan(meta) {
		return
	}
	info := &Info{
		Name:           name,
		Value:          value,
		Operation:      op,
		Property:       prop,
		Start:          int(meta.Get("startIndex").Int()),
		End:            int(meta.Get("endIndex").Int()),
		Score:          meta.Get("score").Float(),
		Text:           meta.Get("text").String(),
		Type:           meta.Get("type").String(),
		Role:           meta.Get("role").String(),
		WhenRecognized: n.turn,
	}
	if info.End < info.Start {
		info.Start, info.End = info.End, info.Start
	}
	if info.Role == "" {
		info.Priority = 1
	}
	if len(n.text) > 0 {
		info.Coverage = float64(info.Len()) / float64(len(n.text))
	}
	if root != nil {
		info.Root = *root
	} else {
		info.Root = Span{Name: name, Start: info.Start, End: info.End}
	}
	n.out[name] = append(n.out[name], info)
}

// RemoveCovered sorts occurrences by start ascending then end descending and
// drops every occurrence covered by an earlier one.
func RemoveCovered(list []*Info) []*Info {
	sorted := slices.Clone(list)
	slices.SortStableFunc(sorted, func(a, b *Info) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return b.End - a.End
	})
	kept := sorted[:0]
	for _, e := range sorted {
		covered := false
		for _, k := range kept {
			if k.Covers(e) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, e)
		}
	}
	return kept
}
