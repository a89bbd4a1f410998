package index

import (
	"reflect"
	"testing"

	"loglens/pkg/record"
)

func TestBuild(t *testing.T) {
	records := []record.Record{
		{Level: "INFO", Namespace: "core", Line: 1},
		{Level: "ERROR", Namespace: "core.db", Line: 2},
		{Level: "INFO", Namespace: "ui", Line: 3},
		{Level: "UNKNOWN", Namespace: "", Line: 4},
	}

	idx := Build(records)

	if idx.Len() != 4 {
		t.Errorf("Len() = %d, want 4", idx.Len())
	}
	if got := idx.Levels(); !reflect.DeepEqual(got, []string{"ERROR", "INFO", "UNKNOWN"}) {
		t.Errorf("Levels() = %v", got)
	}
	if got := idx.Namespaces(); !reflect.DeepEqual(got, []string{"core", "core.db", "ui"}) {
		t.Errorf("Namespaces() = %v", got)
	}
	for i, r := range idx.All() {
		if r.Line != records[i].Line {
			t.Errorf("All()[%d].Line = %d, want %d", i, r.Line, records[i].Line)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	idx := Build(nil)
	if idx.Len() != 0 {
		t.Errorf("Len() = %d, want 0", idx.Len())
	}
	if len(idx.Levels()) != 0 || len(idx.Namespaces()) != 0 {
		t.Errorf("empty index has levels %v, namespaces %v", idx.Levels(), idx.Namespaces())
	}
}
