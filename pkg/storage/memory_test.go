package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := t.Context()
	key := ConversationKey("c1")

	if _, err := s.Load(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}

	state := []byte(`{"dialog":{"stack":[]}}`)
	if err := s.Save(ctx, key, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	state[0] = 'x'

	got, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"dialog":{"stack":[]}}` {
		t.Errorf("Load = %s, want the saved copy", got)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }
	ctx := t.Context()

	if err := s.Save(ctx, "conversation/a", []byte("{}")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	now = now.Add(30 * time.Second)
	if _, err := s.Load(ctx, "conversation/a"); err != nil {
		t.Fatalf("Load before expiry: %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := s.Load(ctx, "conversation/a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after expiry = %v, want ErrNotFound", err)
	}
	if keys := s.Keys("conversation/"); len(keys) != 0 {
		t.Errorf("Keys = %v, want none", keys)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(0)
	s.now = func() time.Time { return now }
	ctx := t.Context()

	for _, key := range []string{"conversation/old", "user/old"} {
		if err := s.Save(ctx, key, []byte("{}")); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	now = now.Add(10 * time.Minute)
	if err := s.Save(ctx, "conversation/fresh", []byte("{}")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	removed, err := s.Sweep(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if diff := cmp.Diff([]string{"conversation/old", "user/old"}, removed); diff != "" {
		t.Errorf("swept keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"conversation/fresh"}, s.Keys("")); diff != "" {
		t.Errorf("remaining keys mismatch (-want +got):\n%s", diff)
	}
}

func TestStateJSONScan(t *testing.T) {
	tests := []struct {
		name string
		src  any
		want string
	}{
		{"bytes", []byte(`{"a":1}`), `{"a":1}`},
		{"string", `{"b":2}`, `{"b":2}`},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s StateJSON
			if err := s.Scan(tt.src); err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if string(s) != tt.want {
				t.Errorf("Scan = %q, want %q", s, tt.want)
			}
		})
	}

	var s StateJSON
	if err := s.Scan(42); err == nil {
		t.Error("expected error for unsupported type")
	}
	if v, _ := StateJSON(nil).Value(); v != "{}" {
		t.Errorf("empty Value = %v, want {}", v)
	}
}
