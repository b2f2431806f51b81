package fs

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func Test_Mem_WriteFile_Stamps_ModTime_From_Clock(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	fs := NewMem(WithClock(clock.Now))

	if err := fs.WriteFile("/cache/a.bin", []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	clock.Advance(time.Minute)

	if err := fs.WriteFile("/cache/b.bin", []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := fs.Stat("/cache/a.bin")
	if err != nil {
		t.Fatalf("Stat(a): %v", err)
	}

	b, err := fs.Stat("/cache/b.bin")
	if err != nil {
		t.Fatalf("Stat(b): %v", err)
	}

	if got, want := b.ModTime().Sub(a.ModTime()), time.Minute; got != want {
		t.Fatalf("mtime delta=%v, want=%v", got, want)
	}
}

func Test_Mem_Chtimes_Overrides_ModTime_When_File_Exists(t *testing.T) {
	t.Parallel()

	fs := NewMem()
	old := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := fs.WriteFile("/k.cl", []byte("kernel"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := fs.Chtimes("/k.cl", old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	info, err := fs.Stat("/k.cl")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if !info.ModTime().Equal(old) {
		t.Fatalf("mtime=%v, want=%v", info.ModTime(), old)
	}

	if err := fs.Chtimes("/missing", old); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Chtimes(missing): err=%v, want os.ErrNotExist", err)
	}
}

func Test_Mem_OpenFile_Returns_ErrExist_When_Exclusive_Create_Hits_Existing_File(t *testing.T) {
	t.Parallel()

	fs := NewMem()

	f, err := fs.OpenFile("/root/metainfo.xml", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	defer func() { _ = f.Close() }()

	_, err = fs.OpenFile("/root/metainfo.xml", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("second create: err=%v, want os.ErrExist", err)
	}
}

func Test_Mem_File_Truncate_Seek_Write_Replaces_Content(t *testing.T) {
	t.Parallel()

	fs := NewMem()

	f, err := fs.OpenFile("/index", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write([]byte("a much longer first version")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Truncate(0); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if _, err := f.Write([]byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := fs.ReadFile("/index")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "v2" {
		t.Fatalf("content=%q, want %q", got, "v2")
	}
}

func Test_Mem_Lock_Follows_Flock_Conflict_Rules(t *testing.T) {
	t.Parallel()

	fs := NewMem()

	a := openForLock(t, fs, "/metainfo.xml")
	b := openForLock(t, fs, "/metainfo.xml")
	c := openForLock(t, fs, "/metainfo.xml")

	if err := a.Lock(LockShared); err != nil {
		t.Fatalf("a.Lock(shared): %v", err)
	}

	if err := b.Lock(LockShared); err != nil {
		t.Fatalf("b.Lock(shared): %v", err)
	}

	if err := c.Lock(LockExclusive); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("c.Lock(exclusive): err=%v, want ErrWouldBlock", err)
	}

	if err := a.Unlock(); err != nil {
		t.Fatalf("a.Unlock: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("b.Close: %v", err)
	}

	if err := c.Lock(LockExclusive); err != nil {
		t.Fatalf("c.Lock(exclusive) after release: %v", err)
	}

	if err := a.Lock(LockShared); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("a.Lock(shared) while c exclusive: err=%v, want ErrWouldBlock", err)
	}
}

func Test_Mem_File_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	fs := NewMem()

	f, err := fs.OpenFile("/x", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := f.Write([]byte("late")); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("Write after Close: err=%v, want os.ErrClosed", err)
	}

	if err := f.Lock(LockShared); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("Lock after Close: err=%v, want os.ErrClosed", err)
	}
}

func Test_Mem_Remove_Returns_ErrNotExist_When_File_Is_Missing(t *testing.T) {
	t.Parallel()

	fs := NewMem()

	if err := fs.Remove("/nope"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Remove: err=%v, want os.ErrNotExist", err)
	}

	if err := fs.WriteFile("/yes", []byte("1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := fs.Remove("/yes"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	exists, err := fs.Exists("/yes")
	if err != nil || exists {
		t.Fatalf("Exists after Remove=%v, %v, want false, nil", exists, err)
	}
}
