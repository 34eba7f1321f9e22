package state

import (
	"reflect"
	"testing"
	"time"
)

type version struct{ n int }

func (v version) Equal(other any) bool {
	o, ok := other.(version)
	return ok && o.n/10 == v.n/10
}

func TestSetStateDropsUnchangedKeys(t *testing.T) {
	s := New(map[string]any{"cards": []string{"a"}, "search": ""})

	changed := s.SetState(map[string]any{"cards": []string{"a"}, "search": "x"}, 0)
	if !reflect.DeepEqual(changed, []string{"search"}) {
		t.Fatalf("unexpected changed keys: %v", changed)
	}
	if got := Value[string](s, "search"); got != "x" {
		t.Fatalf("search = %q", got)
	}
}

func TestSetStateComparesTimesByInstant(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New(map[string]any{"due": at})

	changed := s.SetState(map[string]any{"due": at.In(time.FixedZone("x", 3600))}, 0)
	if len(changed) != 0 {
		t.Fatalf("same instant reported as change: %v", changed)
	}
	changed = s.SetState(map[string]any{"due": at.Add(time.Second)}, 0)
	if len(changed) != 1 {
		t.Fatalf("expected change, got %v", changed)
	}
}

func TestSetStateUsesEqualer(t *testing.T) {
	s := New(map[string]any{"v": version{n: 11}})
	if changed := s.SetState(map[string]any{"v": version{n: 15}}, 0); len(changed) != 0 {
		t.Fatalf("equaler ignored: %v", changed)
	}
	if changed := s.SetState(map[string]any{"v": version{n: 25}}, 0); len(changed) != 1 {
		t.Fatalf("expected change: %v", changed)
	}
}

func TestForceRepublishesEqualValues(t *testing.T) {
	s := New(map[string]any{"rows": []string{}})
	calls := 0
	s.Handle("rows").Subscribe(func(any) { calls++ })

	changed := s.SetState(map[string]any{"rows": []string{}}, Force)
	if len(changed) != 1 || calls != 1 {
		t.Fatalf("changed=%v calls=%d", changed, calls)
	}
}

func TestDeferredBatchesNotifications(t *testing.T) {
	s := New(map[string]any{"a": 0})
	var seen []any
	s.Handle("a").Subscribe(func(v any) { seen = append(seen, v) })

	s.SetState(map[string]any{"a": 1}, Deferred)
	s.SetState(map[string]any{"a": 2}, Deferred)
	if len(seen) != 0 {
		t.Fatalf("deferred notification delivered early: %v", seen)
	}
	s.Flush()
	if !reflect.DeepEqual(seen, []any{2}) {
		t.Fatalf("expected a single round with latest value, got %v", seen)
	}
}

func TestChildHandlesNotifyOnlyChangedPaths(t *testing.T) {
	type meta struct{ Count int }
	s := New(map[string]any{"areaMeta": map[string]meta{"c1": {1}, "c2": {1}}})

	root := s.Handle("areaMeta")
	var c1, c2, all int
	root.Child("c1").Subscribe(func(any) { c1++ })
	root.Child("c2").Subscribe(func(any) { c2++ })
	root.Subscribe(func(any) { all++ })

	s.SetState(map[string]any{"areaMeta": map[string]meta{"c1": {2}, "c2": {1}}}, 0)
	if c1 != 1 || c2 != 0 || all != 1 {
		t.Fatalf("c1=%d c2=%d all=%d", c1, c2, all)
	}
	if got := root.Child("c1").Get().(meta).Count; got != 2 {
		t.Fatalf("child value = %d", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New(map[string]any{"a": 0})
	calls := 0
	cancel := s.Handle("a").Subscribe(func(any) { calls++ })
	s.SetState(map[string]any{"a": 1}, 0)
	cancel()
	s.SetState(map[string]any{"a": 2}, 0)
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestGetReactiveStateCoversAllKeys(t *testing.T) {
	s := New(map[string]any{"a": 1, "b": 2})
	handles := s.GetReactiveState()
	if len(handles) != 2 || handles["b"].Get() != 2 {
		t.Fatalf("unexpected handles: %v", handles)
	}
	snap := s.GetState()
	snap["a"] = 100
	if s.Get("a") != 1 {
		t.Fatalf("snapshot aliases store")
	}
}
