package incidents

import (
	"testing"
	"time"

	"fallguard/internal/model"
)

func TestStoreBounded(t *testing.T) {
	s := NewStore(2)
	s.Add(model.Incident{ID: "a"})
	s.Add(model.Incident{ID: "b"})
	s.Add(model.Incident{ID: "c"})
	list := s.List(0)
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "c" {
		t.Fatalf("unexpected contents: %+v", list)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected oldest incident dropped")
	}
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore(10)
	s.Add(model.Incident{ID: "a", Outcome: model.OutcomePending})
	got, ok := s.Update("a", func(inc *model.Incident) {
		inc.Outcome = model.OutcomeOK
	})
	if !ok || got.Outcome != model.OutcomeOK {
		t.Fatalf("update failed: %+v", got)
	}
	if _, ok := s.Update("missing", func(*model.Incident) {}); ok {
		t.Fatalf("expected missing id to report false")
	}
}

func TestStoreSince(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Add(model.Incident{ID: "old", DetectedAt: base})
	s.Add(model.Incident{ID: "new", DetectedAt: base.Add(time.Hour)})
	got := s.Since(base.Add(time.Minute))
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("unexpected since result: %+v", got)
	}
}
