package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPattern = "fin_orders_{datetime:yyyyMMddHHmmss}.csv"

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(time.Second)
		return t
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func sampleEvent(orderID string, status orders.Status, items int) orders.OrderEvent {
	ev := orders.OrderEvent{
		OrderID:      orderID,
		CustomerID:   "CUST-456",
		Status:       status,
		CurrencyCode: "USD",
		OrderTotal:   decimal.RequireFromString("150"),
		OrderPaid:    decimal.RequireFromString("150"),
	}
	for i := 0; i < items; i++ {
		ev.Items = append(ev.Items, orders.Item{
			ProductID:   fmt.Sprintf("PROD-%d", i),
			ProductName: "Sample Product",
			UnitPrice:   decimal.RequireFromString("75.5"),
			Quantity:    2,
		})
	}
	return ev
}

func newTestWriter(t *testing.T, dir string, capacity int, clock func() time.Time) *Writer {
	t.Helper()
	w, err := NewWriter(Config{OutputDir: dir, FilePattern: testPattern, MaxRecords: capacity}, WithClock(clock))
	require.NoError(t, err)
	return w
}

func ledgerFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "fin_orders_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func TestWriteCreatesNewFileWithHeader(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 1000, steppingClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))

	require.NoError(t, w.Write(context.Background(), sampleEvent("ORD-123", orders.StatusPaid, 1)))

	files := ledgerFiles(t, dir)
	require.Equal(t, []string{"fin_orders_20240115103000.csv"}, files)
	lines := readLines(t, filepath.Join(dir, files[0]))
	require.Len(t, lines, 2)
	assert.Equal(t, "order_id,product_name,product_id,quantity,product_price,order_total,order_paid_amount,currency_code", lines[0])
	assert.Equal(t, "ORD-123,Sample Product,PROD-0,2,75.5,150,150,USD", lines[1])
}

func TestWriteAppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 1000, steppingClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, sampleEvent("ORD-123", orders.StatusPaid, 1)))
	require.NoError(t, w.Write(ctx, sampleEvent("ORD-123", orders.StatusCancelled, 1)))

	files := ledgerFiles(t, dir)
	require.Len(t, files, 1)
	assert.Len(t, readLines(t, filepath.Join(dir, files[0])), 3)
}

func TestWriteRotatesIntoCeilMOverCFiles(t *testing.T) {
	dir := t.TempDir()
	const capacity = 2
	w := newTestWriter(t, dir, capacity, steppingClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	ctx := context.Background()

	// 3 events, 1 + 3 + 3 = 7 items -> ceil(7/2) = 4 files
	require.NoError(t, w.Write(ctx, sampleEvent("A", orders.StatusPaid, 1)))
	require.NoError(t, w.Write(ctx, sampleEvent("B", orders.StatusPaid, 3)))
	require.NoError(t, w.Write(ctx, sampleEvent("C", orders.StatusCancelled, 3)))

	files := ledgerFiles(t, dir)
	require.Len(t, files, 4)

	var all []string
	for i, f := range files {
		lines := readLines(t, filepath.Join(dir, f))
		records := lines[1:]
		if i < len(files)-1 {
			assert.Len(t, records, capacity, f)
		} else {
			assert.Len(t, records, 1, f)
		}
		for _, r := range records {
			all = append(all, strings.SplitN(r, ",", 2)[0])
		}
	}
	assert.Equal(t, []string{"A", "B", "B", "B", "C", "C", "C"}, all)
}

func TestWriteResumesExistingPartialFile(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "fin_orders_20240101000000.csv")
	content := headerLine() + "\nOLD,p,1,1,1,1,1,USD\nOLD,p,2,1,1,1,1,USD\n"
	require.NoError(t, os.WriteFile(existing, []byte(content), 0o644))

	w := newTestWriter(t, dir, 3, steppingClock(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, w.Write(context.Background(), sampleEvent("NEW", orders.StatusPaid, 3)))

	files := ledgerFiles(t, dir)
	require.Equal(t, []string{"fin_orders_20240101000000.csv", "fin_orders_20240102000000.csv"}, files)

	old := readLines(t, existing)
	require.Len(t, old, 4)
	assert.True(t, strings.HasPrefix(old[3], "NEW,"))

	fresh := readLines(t, filepath.Join(dir, files[1]))
	require.Len(t, fresh, 3)
	assert.Equal(t, headerLine(), fresh[0])
}

func TestWriteZeroItemsTouchesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-created")
	w := newTestWriter(t, dir, 10, steppingClock(time.Now()))

	require.NoError(t, w.Write(context.Background(), sampleEvent("ORD-1", orders.StatusPaid, 0)))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "directory must not be created")
}

func TestWriteZeroItemsLeavesExistingDirectoryUnchanged(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 10, steppingClock(time.Now()))

	require.NoError(t, w.Write(context.Background(), sampleEvent("ORD-1", orders.StatusCancelled, 0)))
	assert.Empty(t, ledgerFiles(t, dir))
}

func TestWriteFailsFastOnRotationCollision(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Config{
		OutputDir:   dir,
		FilePattern: "fin_orders_{datetime:ddMMyyyyHHmm}.csv",
		MaxRecords:  1,
	}, WithClock(fixedClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, sampleEvent("ORD-1", orders.StatusPaid, 1)))
	err = w.Write(ctx, sampleEvent("ORD-1", orders.StatusCancelled, 1))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRotationCollision)
	assert.ErrorIs(t, err, ErrLedgerWrite)
	assert.Equal(t, []string{"fin_orders_150120241030.csv"}, ledgerFiles(t, dir))
}

func TestWriteCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "financial-output")
	w := newTestWriter(t, dir, 10, steppingClock(time.Now()))

	require.NoError(t, w.Write(context.Background(), sampleEvent("ORD-1", orders.StatusPaid, 1)))
	assert.Len(t, ledgerFiles(t, dir), 1)
}

func TestWriteRejectsFileAsDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	w := newTestWriter(t, path, 10, steppingClock(time.Now()))

	err := w.Write(context.Background(), sampleEvent("ORD-1", orders.StatusPaid, 1))
	assert.ErrorIs(t, err, ErrLedgerWrite)
}

func TestWriteRejectsReadOnlyDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
	w := newTestWriter(t, dir, 10, steppingClock(time.Now()))

	err := w.Write(context.Background(), sampleEvent("ORD-1", orders.StatusPaid, 1))
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Contains(t, err.Error(), "not writable")
}

func TestWritabilityCheckLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 10, steppingClock(time.Now()))
	require.NoError(t, w.Write(context.Background(), sampleEvent("ORD-1", orders.StatusPaid, 1)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "fin_orders_"))
}

func TestUnreadableFileIsTreatedAsFull(t *testing.T) {
	dir := t.TempDir()
	stuck := filepath.Join(dir, "fin_orders_20240101000000.csv")
	before := headerLine() + "\nX,p,1,1,1,1,1,USD\n"
	require.NoError(t, os.WriteFile(stuck, []byte(before), 0o644))

	w := newTestWriter(t, dir, 10, fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	w.open = func(path string) (io.ReadCloser, error) {
		if path == stuck {
			return nil, errors.New("permission denied")
		}
		return os.Open(path)
	}

	require.NoError(t, w.Write(context.Background(), sampleEvent("ORD-1", orders.StatusPaid, 1)))
	assert.Equal(t, []string{"fin_orders_20240101000000.csv", "fin_orders_20240501000000.csv"}, ledgerFiles(t, dir))

	b, err := os.ReadFile(stuck)
	require.NoError(t, err)
	assert.Equal(t, before, string(b))
	assert.Len(t, readLines(t, filepath.Join(dir, "fin_orders_20240501000000.csv")), 2)
}

func TestResolveIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fin_orders_x.txt"), []byte("a\nb\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_20240101.csv"), []byte("a\nb\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "fin_orders_dir.csv"), 0o755))

	w := newTestWriter(t, dir, 10, fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	target, err := w.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "fin_orders_20240501000000.csv", target.Name)
	assert.False(t, target.Exists)
	assert.Zero(t, target.Records)
}

func TestResolvePicksMostRecentlyModified(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "fin_orders_20240301000000.csv")
	newer := filepath.Join(dir, "fin_orders_20240101000000.csv")
	require.NoError(t, os.WriteFile(older, []byte(headerLine()+"\n"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte(headerLine()+"\nX,p,1,1,1,1,1,USD\n"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	w := newTestWriter(t, dir, 10, fixedClock(time.Now()))
	target, err := w.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "fin_orders_20240101000000.csv", target.Name)
	assert.Equal(t, 1, target.Records)
	assert.True(t, target.Exists)
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, 1000, steppingClock(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, w.Write(context.Background(), sampleEvent(fmt.Sprintf("ORD-%d", i), orders.StatusPaid, 2)))
		}(i)
	}
	wg.Wait()

	files := ledgerFiles(t, dir)
	require.Len(t, files, 1)
	lines := readLines(t, filepath.Join(dir, files[0]))
	assert.Len(t, lines, 41)
	assert.Equal(t, headerLine(), lines[0])
}

func TestCountLinesWithoutTrailingNewline(t *testing.T) {
	n, err := countLines(strings.NewReader("h\na\nb"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = countLines(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGeneratedNameShape(t *testing.T) {
	p, err := ParsePattern("test_orders_{datetime:ddMMyyyyHHmm}.csv")
	require.NoError(t, err)
	name := p.Generate(time.Now())
	assert.Regexp(t, regexp.MustCompile(`^test_orders_\d{12}\.csv$`), name)
}
