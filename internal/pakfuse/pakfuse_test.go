package pakfuse

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/u4pak/u4pak/internal/packengine"
	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
)

func buildFixturePak(t *testing.T, compress bool) *pakfile.Pak {
	t.Helper()

	srcDir := t.TempDir()
	files := map[string][]byte{
		"a.txt":        []byte("hello, world\n"),
		"sub/b.bin":    bytes.Repeat([]byte{0x10, 0x20, 0x30}, 30000),
		"deep/d/e.txt": []byte("nested\n"),
	}
	for name, content := range files {
		p := filepath.Join(srcDir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := packengine.Walk([]packengine.SourceSpec{{LocalPath: srcDir}})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for i := range jobs {
		jobs[i].Compress = compress
	}

	dest := filepath.Join(t.TempDir(), "fixture.pak")
	if err := packengine.Run(context.Background(), dest, jobs, packengine.Options{
		Version:              3,
		CompressionBlockSize: 4096,
	}); err != nil {
		t.Fatalf("packengine.Run: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	fi, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	pak, err := pakfile.Open(f, fi.Size(), pakfile.OpenOptions{})
	if err != nil {
		t.Fatalf("pakfile.Open: %v", err)
	}
	return pak
}

func TestBuildTreeShape(t *testing.T) {
	t.Parallel()

	pak := buildFixturePak(t, false)
	root, inodes, err := buildTree(pak.Records)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	if !root.isDir() {
		t.Fatal("root must be a directory")
	}
	// a.txt, sub/ (dir), sub/b.bin, deep/ (dir), deep/d/ (dir), deep/d/e.txt
	// plus root = 7 inodes.
	if len(inodes) != 7 {
		t.Errorf("inodes = %d, want 7", len(inodes))
	}
	sub, ok := root.children["sub"]
	if !ok || !sub.isDir() {
		t.Fatal("expected sub/ directory")
	}
	if _, ok := sub.children["b.bin"]; !ok {
		t.Error("expected sub/b.bin")
	}
}

func TestBuildTreeRejectsConflicts(t *testing.T) {
	t.Parallel()

	_, _, err := buildTree([]*pakfile.Record{
		{Filename: "a"},
		{Filename: "a"},
	})
	var invalid *pakerr.InvalidRecord
	if err == nil {
		t.Fatal("expected an error for a duplicate path")
	}
	if !isInvalidRecord(err, &invalid) {
		t.Errorf("error = %v, want *pakerr.InvalidRecord", err)
	}

	_, _, err = buildTree([]*pakfile.Record{
		{Filename: "a"},
		{Filename: "a/b"},
	})
	if err == nil {
		t.Fatal("expected an error for a file/directory conflict")
	}
}

func isInvalidRecord(err error, target **pakerr.InvalidRecord) bool {
	if e, ok := err.(*pakerr.InvalidRecord); ok {
		*target = e
		return true
	}
	return false
}

func TestLookupReadDirAndReadFile(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{false, true} {
		pak := buildFixturePak(t, compress)
		fs, err := New(pak, 1000, 1000)
		if err != nil {
			t.Fatalf("New(compress=%v): %v", compress, err)
		}
		ctx := context.Background()

		lookup := &fuseops.LookUpInodeOp{Parent: rootInode, Name: "a.txt"}
		if err := fs.LookUpInode(ctx, lookup); err != nil {
			t.Fatalf("LookUpInode(a.txt): %v", err)
		}
		if lookup.Entry.Attributes.Size != uint64(len("hello, world\n")) {
			t.Errorf("a.txt size = %d, want %d", lookup.Entry.Attributes.Size, len("hello, world\n"))
		}

		readdir := &fuseops.ReadDirOp{Inode: rootInode, Dst: make([]byte, 4096)}
		if err := fs.ReadDir(ctx, readdir); err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		if readdir.BytesRead == 0 {
			t.Error("ReadDir wrote no entries")
		}

		open := &fuseops.OpenFileOp{Inode: lookup.Entry.Child}
		if err := fs.OpenFile(ctx, open); err != nil {
			t.Fatalf("OpenFile(a.txt): %v", err)
		}

		read := &fuseops.ReadFileOp{Handle: open.Handle, Offset: 0, Dst: make([]byte, 64)}
		if err := fs.ReadFile(ctx, read); err != nil {
			t.Fatalf("ReadFile(a.txt): %v", err)
		}
		if got := string(read.Dst[:read.BytesRead]); got != "hello, world\n" {
			t.Errorf("read = %q, want %q", got, "hello, world\n")
		}

		release := &fuseops.ReleaseFileHandleOp{Handle: open.Handle}
		if err := fs.ReleaseFileHandle(ctx, release); err != nil {
			t.Fatalf("ReleaseFileHandle: %v", err)
		}
	}
}

func TestReadFileLargeBinaryAcrossBlocks(t *testing.T) {
	t.Parallel()

	pak := buildFixturePak(t, true)
	fs, err := New(pak, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	lookup := &fuseops.LookUpInodeOp{Parent: rootInode, Name: "sub"}
	if err := fs.LookUpInode(ctx, lookup); err != nil {
		t.Fatalf("LookUpInode(sub): %v", err)
	}
	subInode := lookup.Entry.Child

	lookup2 := &fuseops.LookUpInodeOp{Parent: subInode, Name: "b.bin"}
	if err := fs.LookUpInode(ctx, lookup2); err != nil {
		t.Fatalf("LookUpInode(sub/b.bin): %v", err)
	}

	open := &fuseops.OpenFileOp{Inode: lookup2.Entry.Child}
	if err := fs.OpenFile(ctx, open); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	want := bytes.Repeat([]byte{0x10, 0x20, 0x30}, 30000)
	got := make([]byte, 0, len(want))
	buf := make([]byte, 4000) // deliberately not block-aligned
	var off int64
	for {
		read := &fuseops.ReadFileOp{Handle: open.Handle, Offset: off, Dst: buf}
		if err := fs.ReadFile(ctx, read); err != nil {
			t.Fatalf("ReadFile at %d: %v", off, err)
		}
		if read.BytesRead == 0 {
			break
		}
		got = append(got, buf[:read.BytesRead]...)
		off += int64(read.BytesRead)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("reassembled content mismatch: got %d bytes, want %d", len(got), len(want))
	}
}
