package dialog

import (
	"context"
	"math/rand/v2"
	"sync"
)

// Selector chooses which of the matching triggers to run. Candidates
// arrive in priority order and have already matched the event.
type Selector interface {
	Select(ctx context.Context, ac *ActionContext, candidates []*Trigger) ([]*Trigger, error)
}

// FirstSelector picks the first candidate.
type FirstSelector struct{}

// Select implements Selector.
func (FirstSelector) Select(_ context.Context, _ *ActionContext, candidates []*Trigger) ([]*Trigger, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[:1], nil
}

// MostSpecificSelector narrows candidates to the lowest priority and, among
// those, the highest specificity, then lets Selector choose. A nil
// Selector picks the first.
type MostSpecificSelector struct {
	Selector Selector
}

// Select implements Selector.
func (s MostSpecificSelector) Select(ctx context.Context, ac *ActionContext, candidates []*Trigger) ([]*Trigger, error) {
	var best []*Trigger
	for _, t := range candidates {
		if len(best) == 0 {
			best = append(best, t)
			continue
		}
		head := best[0]
		switch {
		case t.EffectivePriority() < head.EffectivePriority(),
			t.EffectivePriority() == head.EffectivePriority() && t.Specificity() > head.Specificity():
			best = []*Trigger{t}
		case t.EffectivePriority() == head.EffectivePriority() && t.Specificity() == head.Specificity():
			best = append(best, t)
		}
	}
	next := s.Selector
	if next == nil {
		next = FirstSelector{}
	}
	return next.Select(ctx, ac, best)
}

// RandomSelector picks one candidate at random.
type RandomSelector struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomSelector creates a selector seeded with seed.
func NewRandomSelector(seed uint64) *RandomSelector {
	return &RandomSelector{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Select implements Selector.
func (s *RandomSelector) Select(_ context.Context, _ *ActionContext, candidates []*Trigger) ([]*Trigger, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	i := s.rnd.IntN(len(candidates))
	s.mu.Unlock()
	return []*Trigger{candidates[i]}, nil
}

// ConditionalSelector delegates to IfTrue or IfFalse depending on a
// template condition.
type ConditionalSelector struct {
	Condition string
	IfTrue    Selector
	IfFalse   Selector
}

// Select implements Selector.
func (s ConditionalSelector) Select(ctx context.Context, ac *ActionContext, candidates []*Trigger) ([]*Trigger, error) {
	ok, err := ac.Evaluate(s.Condition)
	if err != nil {
		return nil, err
	}
	next := s.IfFalse
	if ok {
		next = s.IfTrue
	}
	if next == nil {
		next = FirstSelector{}
	}
	return next.Select(ctx, ac, candidates)
}

// SelectorByName returns a built-in selector by name. Known names are
// first, random and mostSpecificRandom; anything else yields mostSpecific.
func SelectorByName(name string, seed uint64) Selector {
	switch name {
	case "first":
		return FirstSelector{}
	case "random":
		return NewRandomSelector(seed)
	case "mostSpecificRandom":
		return MostSpecificSelector{Selector: NewRandomSelector(seed)}
	}
	return MostSpecificSelector{}
}
