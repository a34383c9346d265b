package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/ocr-service/internal/async"
	"github.com/joseph-ayodele/ocr-service/internal/cache"
	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/entity"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
	"github.com/joseph-ayodele/ocr-service/internal/input"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	name  string
	dets  []extract.RawDetection
	err   error
	calls atomic.Int32
	hook  func()
	// block, when set, holds Extract until it is closed or ctx ends
	block chan struct{}
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Extract(ctx context.Context, path string) ([]extract.RawDetection, time.Duration, error) {
	f.calls.Add(1)
	if _, err := os.Stat(path); err != nil {
		return nil, 0, err
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.dets, 7 * time.Millisecond, nil
}

// countingAcquirer records whether acquisition happened.
type countingAcquirer struct {
	*input.Acquirer
	calls atomic.Int32
}

func (c *countingAcquirer) FromUpload(ctx context.Context, r io.Reader, name string) (*input.File, error) {
	c.calls.Add(1)
	return c.Acquirer.FromUpload(ctx, r, name)
}

func (c *countingAcquirer) FromURL(ctx context.Context, u string) (*input.File, error) {
	c.calls.Add(1)
	return c.Acquirer.FromURL(ctx, u)
}

func pngReader(t *testing.T, w int) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, 8))); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func receiptDetections() []extract.RawDetection {
	return []extract.RawDetection{
		{BBox: extract.BBox{100, 2, 150, 22}, Text: "World", Confidence: extract.Float(0.8)},
		{BBox: extract.BBox{0, 0, 3, 3}, Text: "."},
		{BBox: extract.BBox{0, 40, 50, 60}, Text: "  "},
		{BBox: extract.BBox{0, 0, 50, 20}, Text: "Hello", Confidence: extract.Float(0.9)},
	}
}

type harness struct {
	ctrl     *Controller
	engine   *fakeEngine
	acquirer *countingAcquirer
	store    *cache.MemoryStore
	tempDir  string
}

func newHarness(t *testing.T, ttl time.Duration, opts ...Option) *harness {
	t.Helper()
	eng := &fakeEngine{name: "tesseract", dets: receiptDetections()}
	reg := NewRegistry(quietLogger())
	reg.Register("tesseract", func(context.Context) (extract.Engine, error) { return eng, nil })

	store := cache.NewMemoryStore()
	idem, err := cache.NewIdempotency(store, ttl, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	acq := input.NewAcquirer(1<<20, time.Second, quietLogger())
	acq.TempDir = t.TempDir()
	ca := &countingAcquirer{Acquirer: acq}

	return &harness{
		ctrl:     NewController(reg, idem, ca, quietLogger(), opts...),
		engine:   eng,
		acquirer: ca,
		store:    store,
		tempDir:  acq.TempDir,
	}
}

func (h *harness) assertNoTempFiles(t *testing.T) {
	t.Helper()
	left, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("%d temporary files left behind", len(left))
	}
}

func TestExtract_HappyPath(t *testing.T) {
	h := newHarness(t, time.Hour)

	res, err := h.ctrl.Extract(context.Background(), Request{
		IdempotencyKey: "k1",
		Upload:         pngReader(t, 8),
		Filename:       "receipt.png",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	wantBlocks := []entity.Block{
		{Type: "paragraph", Text: "Hello", BBox: extract.BBox{0, 0, 50, 20}, Page: 1, Confidence: extract.Float(0.9)},
		{Type: "paragraph", Text: "World", BBox: extract.BBox{100, 2, 150, 22}, Page: 1, Confidence: extract.Float(0.8)},
		{Type: "paragraph", Text: "  ", BBox: extract.BBox{0, 40, 50, 60}, Page: 1},
	}
	if diff := cmp.Diff(wantBlocks, res.Blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
	if res.FullText != "Hello\nWorld" {
		t.Errorf("full_text = %q", res.FullText)
	}
	if res.Engine != "tesseract" || res.IdempotencyKey != "k1" {
		t.Errorf("engine/key = %q/%q", res.Engine, res.IdempotencyKey)
	}
	if res.Meta.Pages != 1 || res.Meta.EngineDurationMS != 7 || res.Meta.DurationMS < 0 {
		t.Errorf("meta = %+v", res.Meta)
	}
	h.assertNoTempFiles(t)
}

func TestExtract_IdempotentReplay(t *testing.T) {
	h := newHarness(t, time.Hour)
	ctx := context.Background()

	first, err := h.ctrl.Extract(ctx, Request{IdempotencyKey: "same", Upload: pngReader(t, 8), Filename: "a.png"})
	if err != nil {
		t.Fatal(err)
	}
	h.engine.dets = []extract.RawDetection{{BBox: extract.BBox{0, 0, 90, 90}, Text: "different"}}

	second, err := h.ctrl.Extract(ctx, Request{IdempotencyKey: "same", Upload: pngReader(t, 16), Filename: "b.png"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("replay differs (-first +second):\n%s", diff)
	}
	if n := h.engine.calls.Load(); n != 1 {
		t.Errorf("engine calls = %d, want 1", n)
	}
	if n := h.acquirer.calls.Load(); n != 1 {
		t.Errorf("acquire calls = %d, want 1 (hit must not acquire)", n)
	}
}

func TestExtract_ExpiredEntryRecomputes(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	ctx := context.Background()

	if _, err := h.ctrl.Extract(ctx, Request{IdempotencyKey: "k", Upload: pngReader(t, 8)}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := h.ctrl.Extract(ctx, Request{IdempotencyKey: "k", Upload: pngReader(t, 8)}); err != nil {
		t.Fatal(err)
	}
	if n := h.engine.calls.Load(); n != 2 {
		t.Errorf("engine calls = %d, want 2", n)
	}
}

func TestExtract_ValidationOrder(t *testing.T) {
	h := newHarness(t, time.Hour)
	upload := func() io.Reader { return pngReader(t, 8) }

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"missing key", Request{Upload: upload()}, common.ErrValidation},
		{"blank key", Request{IdempotencyKey: "   ", Upload: upload()}, common.ErrValidation},
		{"neither input", Request{IdempotencyKey: "k"}, common.ErrValidation},
		{"both inputs", Request{IdempotencyKey: "k", Upload: upload(), FileURL: "http://example.com/a.png"}, common.ErrValidation},
		{"unknown engine", Request{IdempotencyKey: "k", Engine: "paddle", Upload: upload()}, common.ErrValidation},
		{"layout", Request{IdempotencyKey: "k", UseLayout: true, Upload: upload()}, common.ErrNotImplemented},
		{"unconfigured engine", Request{IdempotencyKey: "k", Engine: "gcv", Upload: upload()}, common.ErrEngineUnavailable},
		{"layout beats unconfigured", Request{IdempotencyKey: "k", Engine: "gcv", UseLayout: true, Upload: upload()}, common.ErrNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.ctrl.Extract(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if res != nil {
				t.Errorf("partial result returned: %+v", res)
			}
		})
	}
	if n := h.acquirer.calls.Load(); n != 0 {
		t.Errorf("acquirer called %d times for invalid requests", n)
	}
	if n := h.engine.calls.Load(); n != 0 {
		t.Errorf("engine called %d times for invalid requests", n)
	}
}

func TestExtract_EngineFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.engine.err = errors.New("tesseract crashed")
	ctx := context.Background()

	res, err := h.ctrl.Extract(ctx, Request{IdempotencyKey: "k", Upload: pngReader(t, 8)})
	if !errors.Is(err, common.ErrEngine) || res != nil {
		t.Fatalf("Extract() = %v, %v; want engine failure and no result", res, err)
	}
	h.assertNoTempFiles(t)
	if h.store.Len() != 0 {
		t.Errorf("failure was cached")
	}

	h.engine.err = nil
	if _, err := h.ctrl.Extract(ctx, Request{IdempotencyKey: "k", Upload: pngReader(t, 8)}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if n := h.engine.calls.Load(); n != 2 {
		t.Errorf("engine calls = %d, want 2", n)
	}
}

func TestExtract_AcquireFailure(t *testing.T) {
	h := newHarness(t, time.Hour)
	_, err := h.ctrl.Extract(context.Background(), Request{
		IdempotencyKey: "k",
		Upload:         bytes.NewReader([]byte("not an image")),
		Filename:       "a.jpg",
	})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if n := h.engine.calls.Load(); n != 0 {
		t.Errorf("engine called after acquire failure")
	}
	h.assertNoTempFiles(t)
}

type brokenCache struct{ sets atomic.Int32 }

func (b *brokenCache) Get(context.Context, string) (*entity.ExtractionResult, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (b *brokenCache) Set(context.Context, string, *entity.ExtractionResult) error {
	b.sets.Add(1)
	return errors.New("redis: connection refused")
}

func TestExtract_CacheOutageDegradesToMiss(t *testing.T) {
	eng := &fakeEngine{name: "tesseract", dets: receiptDetections()}
	reg := NewRegistry(quietLogger())
	reg.Register("tesseract", func(context.Context) (extract.Engine, error) { return eng, nil })
	acq := input.NewAcquirer(1<<20, time.Second, quietLogger())
	acq.TempDir = t.TempDir()
	bc := &brokenCache{}
	ctrl := NewController(reg, bc, acq, quietLogger())

	res, err := ctrl.Extract(context.Background(), Request{IdempotencyKey: "k", Upload: pngReader(t, 8)})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.FullText != "Hello\nWorld" {
		t.Errorf("full_text = %q", res.FullText)
	}
	if bc.sets.Load() != 1 {
		t.Errorf("cache store not attempted")
	}
}

// barrierEngine blocks each call until n calls are in flight or the timeout passes.
func barrierEngine(eng *fakeEngine, n int32, timeout time.Duration) {
	var inFlight atomic.Int32
	eng.hook = func() {
		inFlight.Add(1)
		deadline := time.Now().Add(timeout)
		for inFlight.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
}

func runConcurrent(t *testing.T, ctrl *Controller, n int) []*entity.ExtractionResult {
	t.Helper()
	var wg sync.WaitGroup
	results := make([]*entity.ExtractionResult, n)
	readers := make([]io.Reader, n)
	for i := range readers {
		readers[i] = pngReader(t, 8)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := ctrl.Extract(context.Background(), Request{IdempotencyKey: "dup", Upload: readers[i]})
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()
	return results
}

func TestExtract_ConcurrentMissesComputeIndependently(t *testing.T) {
	h := newHarness(t, time.Hour)
	barrierEngine(h.engine, 3, 2*time.Second)

	runConcurrent(t, h.ctrl, 3)
	if n := h.engine.calls.Load(); n != 3 {
		t.Errorf("engine calls = %d, want 3 (cache-aside without coordination)", n)
	}
	if h.store.Len() != 1 {
		t.Errorf("store entries = %d, want 1 (last write wins)", h.store.Len())
	}
}

func TestExtract_SingleflightCollapsesMisses(t *testing.T) {
	h := newHarness(t, time.Hour, WithSingleflight(true))
	release := make(chan struct{})
	h.engine.hook = func() { <-release }

	done := make(chan []*entity.ExtractionResult)
	go func() { done <- runConcurrent(t, h.ctrl, 4) }()
	time.Sleep(50 * time.Millisecond)
	close(release)
	results := <-done

	if n := h.engine.calls.Load(); n != 1 {
		t.Errorf("engine calls = %d, want 1", n)
	}
	for _, r := range results[1:] {
		if diff := cmp.Diff(results[0], r); diff != "" {
			t.Errorf("shared result differs:\n%s", diff)
		}
	}
	h.assertNoTempFiles(t)
}

func TestExtract_SingleflightSurvivesLeaderCancel(t *testing.T) {
	h := newHarness(t, time.Hour, WithSingleflight(true))
	h.engine.block = make(chan struct{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Extract(leaderCtx, Request{IdempotencyKey: "k", Upload: pngReader(t, 8)})
		leaderErr <- err
	}()
	for h.engine.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type outcome struct {
		res *entity.ExtractionResult
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := h.ctrl.Extract(context.Background(), Request{IdempotencyKey: "k", Upload: pngReader(t, 8)})
		follower <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader err = %v, want context.Canceled", err)
	}

	close(h.engine.block)
	got := <-follower
	if got.err != nil {
		t.Fatalf("follower err = %v, want result", got.err)
	}
	if got.res.FullText != "Hello\nWorld" {
		t.Errorf("follower full_text = %q", got.res.FullText)
	}
	if n := h.engine.calls.Load(); n != 1 {
		t.Errorf("engine calls = %d, want 1", n)
	}
	h.assertNoTempFiles(t)
}

func TestExtract_EngineGate(t *testing.T) {
	pool := async.NewPool(quietLogger(), async.WithWorkers(1))
	defer pool.Shutdown(context.Background())
	h := newHarness(t, time.Hour, WithEngineGate(pool))

	res, err := h.ctrl.Extract(context.Background(), Request{IdempotencyKey: "g", Upload: pngReader(t, 8)})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Blocks) != 3 {
		t.Errorf("blocks = %d, want 3", len(res.Blocks))
	}
}

func TestRegistry_LazyOnceAndRetry(t *testing.T) {
	reg := NewRegistry(quietLogger())
	var builds atomic.Int32
	fail := true
	reg.Register("tesseract", func(context.Context) (extract.Engine, error) {
		builds.Add(1)
		if fail {
			return nil, errors.New("tessdata missing")
		}
		return &fakeEngine{name: "tesseract"}, nil
	})
	ctx := context.Background()

	if builds.Load() != 0 {
		t.Fatal("engine built at registration")
	}
	if _, err := reg.Get(ctx, "tesseract"); err == nil {
		t.Fatal("expected construction error")
	}
	fail = false

	var wg sync.WaitGroup
	engines := make([]extract.Engine, 8)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := reg.Get(ctx, "tesseract")
			if err != nil {
				t.Error(err)
			}
			engines[i] = e
		}(i)
	}
	wg.Wait()

	if n := builds.Load(); n != 2 {
		t.Errorf("builds = %d, want 2 (one failure, one success)", n)
	}
	for _, e := range engines[1:] {
		if e != engines[0] {
			t.Fatal("registry returned different engine instances")
		}
	}
	if _, err := reg.Get(ctx, "gcv"); err == nil {
		t.Error("expected error for unregistered engine")
	}
	if !reg.Configured("tesseract") || reg.Configured("gcv") {
		t.Errorf("Configured() wrong: %v", reg.Names())
	}
}
