package tree

import (
	"reflect"
	"testing"
	"time"
)

func TestEditsLeaveEarlierRootsUnchanged(t *testing.T) {
	tr := sample(t)
	before := tr.Root()
	want := before.Clone()

	if err := tr.Upsert(Path{"a", "d"}, NewFile("d")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Upsert(Path{"a", "b"}, NewDir("b")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Delete(Path{"src"}); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(before, want) {
		t.Errorf("earlier root changed to %+v", before)
	}
	// Untouched subtrees are shared, edited directories are not.
	if tr.Root() == before || tr.Root().Children[0] == before.Children[0] {
		t.Error("edited directories were modified in place")
	}
	if got := names(tr.Root().Children[0].Children); !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("a = %v", got)
	}
}

func TestReadDoesNotBlockApply(t *testing.T) {
	tr := sample(t)
	h := NewHandle(tr)

	h.Read(func(view *Tree) {
		done := make(chan error, 1)
		go func() {
			_, err := h.Apply(Update{Path: Path{"src", "main.go"}, Entry: NewFile("main.go")})
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Apply blocked behind a reader")
		}

		// The reader keeps the state it started with.
		if _, err := view.Lookup(Path{"src", "main.go"}); err == nil {
			t.Error("reader saw an update applied after it started")
		}
	})

	e, version, err := h.LookupAt(Path{"src", "main.go"})
	if err != nil || e.Name != "main.go" || version != 1 {
		t.Errorf("LookupAt = %+v, %d, %v", e, version, err)
	}
	if files, dirs := h.Count(); files != 3 || dirs != 3 {
		t.Errorf("Count = %d files, %d dirs", files, dirs)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	h := NewHandle(sample(t))
	root, version := h.Snapshot()
	root.Children = nil

	again, _ := h.Snapshot()
	if len(again.Children) != 2 || version != 0 {
		t.Errorf("snapshot shares nodes with the tree: %+v (version %d)", again, version)
	}
}
