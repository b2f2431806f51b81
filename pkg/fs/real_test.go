package fs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func Test_RealFS_Exists_Returns_False_When_Path_Does_Not_Exist(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	dir := t.TempDir()

	exists, err := fs.Exists(filepath.Join(dir, "does-not-exist.bin"))

	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, false; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func Test_RealFS_DirExists_Distinguishes_Files_From_Directories(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	dir := t.TempDir()
	file := filepath.Join(dir, "kernel.bin")

	if err := os.WriteFile(file, []byte("bin"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	isDir, err := fs.DirExists(dir)
	if err != nil || !isDir {
		t.Fatalf("DirExists(%q)=%v, %v, want true, nil", dir, isDir, err)
	}

	isDir, err = fs.DirExists(file)
	if err != nil || isDir {
		t.Fatalf("DirExists(%q)=%v, %v, want false, nil", file, isDir, err)
	}

	isDir, err = fs.DirExists(filepath.Join(dir, "missing"))
	if err != nil || isDir {
		t.Fatalf("DirExists(missing)=%v, %v, want false, nil", isDir, err)
	}
}

func Test_RealFS_WriteFile_Replaces_Content_When_File_Exists(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	path := filepath.Join(t.TempDir(), "kernel.bin")

	if err := fs.WriteFile(path, []byte("first binary"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := fs.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "second" {
		t.Fatalf("content=%q, want %q", got, "second")
	}

	info, err := fs.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if got, want := info.Mode().Perm(), os.FileMode(0o600); got != want {
		t.Fatalf("perm=%v, want=%v", got, want)
	}
}

func Test_RealFS_OpenFile_Returns_ErrExist_When_Exclusive_Create_Races(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	path := filepath.Join(t.TempDir(), "metainfo.xml")

	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	defer func() { _ = f.Close() }()

	_, err = fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("second create: err=%v, want os.ErrExist", err)
	}
}

func Test_RealFS_Lock_Excludes_Second_Handle_When_Held_Exclusively(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	path := filepath.Join(t.TempDir(), "metainfo.xml")

	a := openForLock(t, fs, path)
	b := openForLock(t, fs, path)

	if err := a.Lock(LockExclusive); err != nil {
		t.Fatalf("a.Lock: %v", err)
	}

	if err := b.Lock(LockShared); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("b.Lock(shared): err=%v, want ErrWouldBlock", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("a.Close: %v", err)
	}

	if err := b.Lock(LockExclusive); err != nil {
		t.Fatalf("b.Lock after a.Close: %v", err)
	}
}

func Test_RealFS_Lock_Allows_Many_Readers_When_Shared(t *testing.T) {
	t.Parallel()

	fs := NewReal()
	path := filepath.Join(t.TempDir(), "metainfo.xml")

	a := openForLock(t, fs, path)
	b := openForLock(t, fs, path)
	c := openForLock(t, fs, path)

	if err := a.Lock(LockShared); err != nil {
		t.Fatalf("a.Lock: %v", err)
	}

	if err := b.Lock(LockShared); err != nil {
		t.Fatalf("b.Lock: %v", err)
	}

	if err := c.Lock(LockExclusive); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("c.Lock(exclusive): err=%v, want ErrWouldBlock", err)
	}
}

func Test_FlockNonBlocking_Retries_When_Interrupted(t *testing.T) {
	t.Parallel()

	calls := 0
	flock := func(int, int) error {
		calls++
		if calls < 3 {
			return syscall.EINTR
		}

		return nil
	}

	if err := flockNonBlocking(flock, 3, LockExclusive); err != nil {
		t.Fatalf("flockNonBlocking: err=%v, want nil", err)
	}

	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func Test_FlockNonBlocking_Returns_ErrWouldBlock_When_EAGAIN(t *testing.T) {
	t.Parallel()

	flock := func(int, int) error { return syscall.EAGAIN }

	if err := flockNonBlocking(flock, 3, LockShared); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("flockNonBlocking: err=%v, want ErrWouldBlock", err)
	}
}

func openForLock(t *testing.T, fs FS, path string) File {
	t.Helper()

	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile(%q): %v", path, err)
	}

	t.Cleanup(func() { _ = f.Close() })

	return f
}
