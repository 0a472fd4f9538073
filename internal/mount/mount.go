// Package mount exposes the mirrored tree as a read-only FUSE filesystem.
// Files are listed with their names only and read as empty.
package mount

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/pkg/tree"
)

// Node is one mirrored entry. It holds only its path and resolves the entry
// against the live tree on every call, so the mount follows updates.
type Node struct {
	fs.Inode

	handle *tree.Handle
	path   tree.Path
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)

// NewRoot returns the root node for h.
func NewRoot(h *tree.Handle) *Node {
	return &Node{handle: h, path: tree.Path{}}
}

// Mount mounts h read-only at mountPoint.
func Mount(mountPoint string, h *tree.Handle, logger *zap.Logger) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	timeout := time.Second
	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: false,
			Debug:      false,
			FsName:     "treemirror",
			Name:       "treemirror",
			Options:    []string{"ro"},
		},
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		UID:             uint32(os.Getuid()),
		GID:             uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, NewRoot(h), opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if logger != nil {
		logger.Info("tree mounted", zap.String("mount_point", mountPoint))
	}
	return server, nil
}

func modeOf(e *tree.Entry) uint32 {
	if e.IsDir {
		return 0555 | syscall.S_IFDIR
	}
	return 0444 | syscall.S_IFREG
}

// entry returns the shallow state of the node's entry: its mode and, for a
// directory, its child names and modes.
func (n *Node) entry() (mode uint32, children []gofuse.DirEntry, errno syscall.Errno) {
	n.handle.Read(func(t *tree.Tree) {
		e, err := t.Lookup(n.path)
		if err != nil {
			errno = syscall.ENOENT
			return
		}
		mode = modeOf(e)
		if !e.IsDir {
			return
		}
		children = make([]gofuse.DirEntry, 0, len(e.Children))
		for _, c := range e.Children {
			children = append(children, gofuse.DirEntry{Name: c.Name, Mode: modeOf(c) &^ 0777})
		}
	})
	return mode, children, errno
}

// Getattr returns file attributes.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	mode, _, errno := n.entry()
	if errno != 0 {
		return errno
	}
	out.Mode = mode
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
	return 0
}

// child resolves name below n without creating an inode.
func (n *Node) child(name string) (*Node, uint32, syscall.Errno) {
	p := n.path.Child(name)
	var mode uint32
	errno := syscall.Errno(0)
	n.handle.Read(func(t *tree.Tree) {
		e, err := t.Lookup(p)
		if err != nil {
			errno = syscall.ENOENT
			return
		}
		mode = modeOf(e)
	})
	if errno != 0 {
		return nil, 0, errno
	}
	return &Node{handle: n.handle, path: p}, mode, 0
}

// Lookup finds a child by name.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, mode, errno := n.child(name)
	if errno != 0 {
		return nil, errno
	}
	out.Mode = mode
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode &^ 0777}), 0
}

// Readdir lists directory contents.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	mode, children, errno := n.entry()
	if errno != 0 {
		return nil, errno
	}
	if mode&syscall.S_IFDIR == 0 {
		return nil, syscall.ENOTDIR
	}
	return fs.NewListDirStream(children), 0
}

// Open allows read-only access to files.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	mode, _, errno := n.entry()
	if errno != 0 {
		return nil, 0, errno
	}
	if mode&syscall.S_IFDIR != 0 {
		return nil, 0, syscall.EISDIR
	}
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, gofuse.FOPEN_KEEP_CACHE, 0
}

// Read returns no data; the mirror holds names, not contents.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	return gofuse.ReadResultData(nil), 0
}
