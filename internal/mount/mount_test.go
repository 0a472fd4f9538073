package mount

import (
	"context"
	"syscall"
	"testing"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fruitsalade/treemirror/pkg/tree"
)

func testHandle(t *testing.T) *tree.Handle {
	t.Helper()
	tr, err := tree.New("/r")
	if err != nil {
		t.Fatal(err)
	}
	h := tree.NewHandle(tr)
	root := tree.NewDir("r", tree.NewDir("src", tree.NewFile("main.go")), tree.NewFile("go.mod"))
	if _, err := h.Apply(tree.Update{Path: tree.Path{}, Entry: root}); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestGetattr(t *testing.T) {
	h := testHandle(t)
	root := NewRoot(h)

	var out gofuse.AttrOut
	if errno := root.Getattr(context.Background(), nil, &out); errno != 0 {
		t.Fatalf("Getattr root: %v", errno)
	}
	if out.Mode&syscall.S_IFDIR == 0 {
		t.Errorf("root mode = %o, want directory", out.Mode)
	}

	src, mode, errno := root.child("src")
	if errno != 0 || mode&syscall.S_IFDIR == 0 {
		t.Fatalf("child(src) = %o, %v", mode, errno)
	}
	mainGo, mode, errno := src.child("main.go")
	if errno != 0 || mode&syscall.S_IFREG == 0 {
		t.Fatalf("child(main.go) = %o, %v", mode, errno)
	}
	if _, _, errno := root.child("nope"); errno != syscall.ENOENT {
		t.Errorf("child(nope) = %v, want ENOENT", errno)
	}

	// Nodes follow the live tree.
	if _, err := h.Apply(tree.Update{Path: tree.Path{"src", "main.go"}}); err != nil {
		t.Fatal(err)
	}
	if errno := mainGo.Getattr(context.Background(), nil, &out); errno != syscall.ENOENT {
		t.Errorf("Getattr after delete = %v, want ENOENT", errno)
	}
}

func TestReaddir(t *testing.T) {
	root := NewRoot(testHandle(t))

	ds, errno := root.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir: %v", errno)
	}
	var names []string
	for ds.HasNext() {
		e, errno := ds.Next()
		if errno != 0 {
			t.Fatal(errno)
		}
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "src" || names[1] != "go.mod" {
		t.Errorf("entries = %v", names)
	}

	file, _, _ := root.child("go.mod")
	if _, errno := file.Readdir(context.Background()); errno != syscall.ENOTDIR {
		t.Errorf("Readdir on file = %v, want ENOTDIR", errno)
	}
}

func TestOpenIsReadOnly(t *testing.T) {
	root := NewRoot(testHandle(t))
	file, _, _ := root.child("go.mod")

	if _, _, errno := file.Open(context.Background(), syscall.O_RDONLY); errno != 0 {
		t.Errorf("read-only open = %v", errno)
	}
	if _, _, errno := file.Open(context.Background(), syscall.O_RDWR); errno != syscall.EROFS {
		t.Errorf("read-write open = %v, want EROFS", errno)
	}
	if _, _, errno := root.Open(context.Background(), syscall.O_RDONLY); errno != syscall.EISDIR {
		t.Errorf("open dir = %v, want EISDIR", errno)
	}

	res, errno := file.Read(context.Background(), nil, make([]byte, 16), 0)
	if errno != 0 {
		t.Fatal(errno)
	}
	if data, _ := res.Bytes(make([]byte, 16)); len(data) != 0 {
		t.Errorf("read %d bytes, want 0", len(data))
	}
}
