package archive

import (
	"errors"
	"testing"
	"time"

	"loglens/pkg/record"
	"loglens/pkg/stats"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(name string) *Snapshot {
	records := []record.Record{
		{Level: "ERROR", Namespace: "core.db", Message: "timeout", Line: 2},
	}
	return &Snapshot{
		Name:    name,
		Source:  "app.jsonl",
		Query:   "level:ERROR",
		Records: records,
		Stats:   stats.Compute(records, stats.Options{}),
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)

	snap := testSnapshot("errors")
	if err := s.Save(snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if snap.ID == "" {
		t.Fatal("Save() did not assign an ID")
	}
	if snap.CreatedAt.IsZero() {
		t.Fatal("Save() did not set CreatedAt")
	}

	got, err := s.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "errors" || got.Source != "app.jsonl" || got.Query != "level:ERROR" {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.Records) != 1 || got.Records[0].Line != 2 {
		t.Errorf("Get() records = %+v", got.Records)
	}
	if got.Stats.TotalEntries != 1 {
		t.Errorf("Get() stats = %+v", got.Stats)
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := testStore(t)

	for _, name := range []string{"first", "second", "third"} {
		if err := s.Save(testSnapshot(name)); err != nil {
			t.Fatalf("Save(%s) error = %v", name, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct key timestamps
	}

	summaries, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("List() = %d summaries, want 3", len(summaries))
	}
	if summaries[0].Name != "third" || summaries[2].Name != "first" {
		t.Errorf("List() order = %s..%s, want newest first", summaries[0].Name, summaries[2].Name)
	}
	if summaries[0].RecordCount != 1 {
		t.Errorf("List() RecordCount = %d, want 1", summaries[0].RecordCount)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)

	snap := testSnapshot("doomed")
	if err := s.Save(snap); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(snap.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(snap.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrNotFound", err)
	}
}

func TestPruneByAge(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{DBPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(testSnapshot("old")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopen with an aggressive age limit; nothing is older than a day, so
	// the snapshot must survive.
	s, err = Open(Config{DBPath: dir, RetentionDays: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	summaries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Errorf("List() after prune = %d, want 1 (snapshot within retention)", len(summaries))
	}
}
