package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "scout.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTransitionJournalOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tk := &task.Task{ID: "recon-test1", SiteURL: "https://example.com", Goal: "titles"}
	if err := s.RegisterTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		from, to task.Phase
		event    string
		iter     int
	}{
		{task.PhaseSense, task.PhasePlan, "sense_ok", 0},
		{task.PhasePlan, task.PhaseAct, "plan_ok", 0},
		{task.PhaseAct, task.PhaseRepair, "act_failed", 0},
		{task.PhaseRepair, task.PhaseAct, "repaired", 1},
	}
	for _, st := range steps {
		if err := s.RecordTransition(ctx, tk.ID, st.from, st.to, st.event, st.iter); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Transitions(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(steps) {
		t.Fatalf("got %d transitions, want %d", len(got), len(steps))
	}
	for i, st := range steps {
		if got[i].FromPhase != string(st.from) || got[i].ToPhase != string(st.to) || got[i].Event != st.event {
			t.Errorf("transition %d = %+v, want %v->%v on %s", i, got[i], st.from, st.to, st.event)
		}
		if got[i].Iteration != st.iter {
			t.Errorf("transition %d iteration = %d, want %d", i, got[i].Iteration, st.iter)
		}
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tk := &task.Task{ID: "recon-test2", SiteURL: "https://example.com", Goal: "prices"}
	if err := s.RegisterTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	res := &task.Result{
		TaskID:         tk.ID,
		Success:        true,
		Phase:          task.PhaseDone,
		SampleData:     []task.Record{{"title": "a", "price": "9.99"}},
		IterationsUsed: 1,
	}
	if err := s.SaveReport(ctx, res); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Report(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Success || loaded.Phase != task.PhaseDone {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.SampleData) != 1 || loaded.SampleData[0]["title"] != "a" {
		t.Errorf("SampleData = %v", loaded.SampleData)
	}
	if loaded.IterationsUsed != 1 {
		t.Errorf("IterationsUsed = %d, want 1", loaded.IterationsUsed)
	}
}

func TestReportMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Report(context.Background(), "recon-none"); err == nil {
		t.Error("expected error for missing report")
	}
}

func TestReportIndexSearch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "scout.db")
	idx, err := NewReportIndex(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	res := &task.Result{
		TaskID:  "recon-idx1",
		Success: false,
		Phase:   task.PhaseFailed,
		Reason:  task.ReasonRepairBudgetExhausted,
	}
	if err := idx.IndexReport(res, "https://shop.example.com", "product prices"); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search("prices", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].TaskID != "recon-idx1" {
		t.Fatalf("hits = %+v, want recon-idx1", hits)
	}
	if hits[0].SiteURL != "https://shop.example.com" {
		t.Errorf("SiteURL = %q", hits[0].SiteURL)
	}
}
