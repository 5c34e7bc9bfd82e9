// Package archive provides scoped handles over jar (zip) archives.
//
// A Reader is owned by the operation that opened it and must be closed on
// every exit path. A Writer stages entries into a temp file next to the
// destination; Commit publishes it with a rename, Abort discards it. Deflate
// is served by klauspost/compress for both directions.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/Sumatoshi-tech/srcforge/pkg/classfile"
)

const (
	dirPerm      = 0o750
	filePerm     = 0o600
	tmpExtension = ".tmp"
)

// Sentinel errors.
var (
	ErrDuplicateEntry = errors.New("duplicate archive entry")
	ErrEntryNotFound  = errors.New("archive entry not found")
	ErrWriterClosed   = errors.New("archive writer: write after close")
)

// entryTime is stamped on every entry this package writes so that identical
// inputs produce identical archives.
var entryTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

func newDeflateWriter(out io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(out, flate.DefaultCompression)
}

// Unit is one compiled class entry of an archive.
type Unit struct {
	// Name is the internal class name, e.g. "foo/Bar$Inner".
	Name string
	File *zip.File
}

// TopLevel returns the enclosing top-level unit name.
func (u Unit) TopLevel() string {
	return classfile.TopLevel(u.Name)
}

// Read returns the decompressed class bytes.
func (u Unit) Read() ([]byte, error) {
	return ReadEntry(u.File)
}

// Reader is a scoped read handle on an archive file.
type Reader struct {
	path string
	fd   *os.File
	zr   *zip.Reader
	size int64
}

// Open opens the archive at path.
func Open(path string) (*Reader, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	info, err := fd.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("stat archive: %w", err), fd.Close())
	}

	zr, err := zip.NewReader(fd, info.Size())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("read archive %s: %w", path, err), fd.Close())
	}

	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	return &Reader{path: path, fd: fd, zr: zr, size: info.Size()}, nil
}

// Path returns the archive path.
func (r *Reader) Path() string { return r.path }

// Size returns the archive size in bytes.
func (r *Reader) Size() int64 { return r.size }

// Files returns every entry in archive order.
func (r *Reader) Files() []*zip.File { return r.zr.File }

// Units returns the compiled class entries sorted by name.
func (r *Reader) Units() []Unit {
	units := make([]Unit, 0, len(r.zr.File))

	for _, f := range r.zr.File {
		name, ok := classfile.UnitName(f.Name)
		if !ok {
			continue
		}

		units = append(units, Unit{Name: name, File: f})
	}

	slices.SortFunc(units, func(a, b Unit) int { return strings.Compare(a.Name, b.Name) })

	return units
}

// Lookup returns the entry with the given name.
func (r *Reader) Lookup(name string) (*zip.File, error) {
	for _, f := range r.zr.File {
		if f.Name == name {
			return f, nil
		}
	}

	return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, name, r.path)
}

// ReadFile returns the decompressed content of the named entry.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	f, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	return ReadEntry(f)
}

// Close releases the file handle.
func (r *Reader) Close() error {
	err := r.fd.Close()
	if err != nil {
		return fmt.Errorf("close archive %s: %w", r.path, err)
	}

	return nil
}

// ReadEntry decompresses one entry.
func ReadEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}

	data, readErr := io.ReadAll(rc)
	closeErr := rc.Close()

	if readErr != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, readErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("close entry %s: %w", f.Name, closeErr)
	}

	return data, nil
}

// Writer stages a new archive next to its destination.
type Writer struct {
	path  string
	tmp   string
	fd    *os.File
	zw    *zip.Writer
	names map[string]struct{}
	done  bool
}

// Create starts a new archive that replaces path on Commit. A stale temp
// file from an interrupted run is overwritten.
func Create(path string) (*Writer, error) {
	mkErr := os.MkdirAll(filepath.Dir(path), dirPerm)
	if mkErr != nil {
		return nil, fmt.Errorf("create archive dir: %w", mkErr)
	}

	tmp := path + tmpExtension

	fd, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(fd)
	zw.RegisterCompressor(zip.Deflate, newDeflateWriter)

	return &Writer{
		path:  path,
		tmp:   tmp,
		fd:    fd,
		zw:    zw,
		names: make(map[string]struct{}),
	}, nil
}

// Path returns the destination path.
func (w *Writer) Path() string { return w.path }

// Has reports whether an entry with the given name was already written.
func (w *Writer) Has(name string) bool {
	_, ok := w.names[name]

	return ok
}

// Len returns the number of entries written so far.
func (w *Writer) Len() int { return len(w.names) }

func (w *Writer) claim(name string) error {
	if w.done {
		return ErrWriterClosed
	}

	if w.Has(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}

	w.names[name] = struct{}{}

	return nil
}

// Add writes a deflated entry.
func (w *Writer) Add(name string, data []byte) error {
	claimErr := w.claim(name)
	if claimErr != nil {
		return claimErr
	}

	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: entryTime}

	out, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}

	_, err = out.Write(data)
	if err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}

	return nil
}

// Copy transfers an entry from another archive without recompressing it.
func (w *Writer) Copy(f *zip.File) error {
	claimErr := w.claim(f.Name)
	if claimErr != nil {
		return claimErr
	}

	err := w.zw.Copy(f)
	if err != nil {
		return fmt.Errorf("copy entry %s: %w", f.Name, err)
	}

	return nil
}

// Commit finalizes the archive and renames it over the destination.
func (w *Writer) Commit() error {
	if w.done {
		return ErrWriterClosed
	}

	w.done = true

	closeErr := w.zw.Close()
	if closeErr != nil {
		return errors.Join(fmt.Errorf("finish archive: %w", closeErr), w.discard())
	}

	syncErr := w.fd.Sync()
	if syncErr != nil {
		return errors.Join(fmt.Errorf("sync archive: %w", syncErr), w.discard())
	}

	fdErr := w.fd.Close()
	if fdErr != nil {
		return errors.Join(fmt.Errorf("close archive: %w", fdErr), os.Remove(w.tmp))
	}

	renameErr := os.Rename(w.tmp, w.path)
	if renameErr != nil {
		return errors.Join(fmt.Errorf("publish archive %s: %w", w.path, renameErr), os.Remove(w.tmp))
	}

	return nil
}

// Abort discards the staged archive. It is a no-op after Commit, so it can
// be deferred unconditionally.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}

	w.done = true

	return w.discard()
}

func (w *Writer) discard() error {
	closeErr := w.fd.Close()
	removeErr := os.Remove(w.tmp)

	if errors.Is(closeErr, os.ErrClosed) {
		closeErr = nil
	}

	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}

	return errors.Join(closeErr, removeErr)
}

// WriteFiles creates an archive at path holding the given entries in name
// order.
func WriteFiles(path string, entries map[string][]byte) error {
	w, err := Create(path)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		addErr := w.Add(name, entries[name])
		if addErr != nil {
			return errors.Join(addErr, w.Abort())
		}
	}

	return w.Commit()
}

// ReadFiles returns every entry of the archive at path, decompressed.
func ReadFiles(path string) (map[string][]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make(map[string][]byte, len(r.Files()))

	for _, f := range r.Files() {
		data, readErr := ReadEntry(f)
		if readErr != nil {
			return nil, readErr
		}

		out[f.Name] = data
	}

	return out, nil
}
