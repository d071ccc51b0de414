package ledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ariefcatur/order-relay/internal/metrics"
	"github.com/ariefcatur/order-relay/internal/orders"
	"go.uber.org/zap"
)

var (
	ErrLedgerWrite = errors.New("ledger write")
	// ErrRotationCollision: file penuh dan nama baru sama dengan nama lama
	// (granularitas timestamp di pattern terlalu kasar).
	ErrRotationCollision = errors.New("ledger rotation produced an existing file name")
)

// WriteError carries the file that was being written when the failure happened.
type WriteError struct {
	File string
	Err  error
}

func (e *WriteError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%s: %v", ErrLedgerWrite, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrLedgerWrite, e.File, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrLedgerWrite, e.Err} }

type Config struct {
	OutputDir   string
	FilePattern string
	MaxRecords  int
}

// Writer appends financial records to a rotating set of CSV files.
// It keeps no state about the files: every write rediscovers the current
// file from the directory, so a restarted process continues where the
// previous one stopped. Writes from one process are serialized; other
// processes writing the same directory are not guarded against.
type Writer struct {
	dir      string
	pattern  Pattern
	capacity int
	now      func() time.Time
	open     func(path string) (io.ReadCloser, error)
	log      *zap.Logger

	mu sync.Mutex
}

type Option func(*Writer)

// WithClock replaces time.Now for file name generation.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) { w.log = l }
}

func NewWriter(cfg Config, opts ...Option) (*Writer, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("ledger output directory is required")
	}
	if cfg.MaxRecords < 1 {
		return nil, fmt.Errorf("ledger max records must be >= 1, got %d", cfg.MaxRecords)
	}
	p, err := ParsePattern(cfg.FilePattern)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		dir:      cfg.OutputDir,
		pattern:  p,
		capacity: cfg.MaxRecords,
		now:      time.Now,
		open:     func(path string) (io.ReadCloser, error) { return os.Open(path) },
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.Named("ledger")
	return w, nil
}

// Write appends one record per item of ev. An event without items touches
// nothing on disk.
func (w *Writer) Write(ctx context.Context, ev orders.OrderEvent) error {
	records := RecordsFrom(ev)
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureDir(); err != nil {
		return &WriteError{Err: err}
	}

	for len(records) > 0 {
		if err := ctx.Err(); err != nil {
			return &WriteError{Err: err}
		}
		t, err := w.Resolve()
		if err != nil {
			return err
		}
		n := w.capacity - t.Records
		if n > len(records) {
			n = len(records)
		}
		if err := w.appendChunk(t, records[:n]); err != nil {
			return &WriteError{File: t.Name, Err: err}
		}
		metrics.LedgerRecords.Add(float64(n))
		w.log.Info("ledger records written",
			zap.String("order_id", ev.OrderID),
			zap.String("file", t.Name),
			zap.Int("records", n),
			zap.Int("file_records", t.Records+n),
		)
		records = records[n:]
	}
	return nil
}

// Target is the file the next records go to.
type Target struct {
	Name    string
	Path    string
	Records int
	Exists  bool
}

// Resolve picks the file the next record should be appended to. It must be
// called with w.mu held when followed by a write.
func (w *Writer) Resolve() (Target, error) {
	name, found, err := w.mostRecent()
	if err != nil {
		return Target{}, &WriteError{Err: err}
	}
	if !found {
		name = w.pattern.Generate(w.now())
		w.log.Debug("no ledger file yet, starting a new one", zap.String("file", name))
	}

	t, err := w.inspect(name)
	if err != nil {
		w.log.Error("cannot count ledger records, rotating", zap.String("file", name), zap.Error(err))
		t = Target{Name: name, Path: filepath.Join(w.dir, name), Records: w.capacity, Exists: true}
	}
	if t.Records < w.capacity {
		return t, nil
	}

	full := t.Name
	next := w.pattern.Generate(w.now())
	if next == full {
		return Target{}, &WriteError{File: full, Err: fmt.Errorf("%w: %s reached %d records and the pattern %q yields the same name; retry later or use a finer timestamp",
			ErrRotationCollision, full, w.capacity, w.pattern)}
	}
	nt, err := w.inspect(next)
	if err != nil {
		return Target{}, &WriteError{File: next, Err: err}
	}
	if nt.Records >= w.capacity {
		return Target{}, &WriteError{File: next, Err: fmt.Errorf("%w: %s is already full", ErrRotationCollision, next)}
	}
	w.log.Info("ledger file full, rotating", zap.String("full", full), zap.String("next", next), zap.Int("capacity", w.capacity))
	return nt, nil
}

func (w *Writer) ensureDir() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", w.dir, err)
	}
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("stat output directory %s: %w", w.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", w.dir)
	}
	tmp, err := os.CreateTemp(w.dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", w.dir, err)
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}

// mostRecent returns the most recently modified file matching the pattern.
// Equal modification times are broken by name.
func (w *Writer) mostRecent() (string, bool, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", false, fmt.Errorf("list output directory %s: %w", w.dir, err)
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || !w.pattern.Matches(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed meanwhile
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && e.Name() > best) {
			best, bestMod = e.Name(), mod
		}
	}
	return best, best != "", nil
}

func (w *Writer) inspect(name string) (Target, error) {
	t := Target{Name: name, Path: filepath.Join(w.dir, name)}
	f, err := w.open(t.Path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	defer f.Close()
	lines, err := countLines(f)
	if err != nil {
		return t, err
	}
	// an empty file still needs its header
	t.Exists = lines > 0
	if lines > 0 {
		t.Records = lines - 1
	}
	return t, nil
}

func countLines(r io.Reader) (int, error) {
	buf := make([]byte, 32*1024)
	var (
		n    int
		last byte
		seen bool
	)
	for {
		c, err := r.Read(buf)
		if c > 0 {
			n += bytes.Count(buf[:c], []byte{'\n'})
			last = buf[c-1]
			seen = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if seen && last != '\n' {
		n++
	}
	return n, nil
}

func (w *Writer) appendChunk(t Target, records []Record) error {
	f, err := os.OpenFile(t.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	bw := bufio.NewWriter(f)
	if !t.Exists {
		bw.WriteString(headerLine())
		bw.WriteByte('\n')
	}
	for _, r := range records {
		bw.WriteString(r.Line())
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("append: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync: %w", err)
	}
	return f.Close()
}
