package ocr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t10\t20\t200\t30\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t20\t80\t30\t90\t영수증\n" +
	"5\t1\t1\t1\t1\t2\t100\t22\t110\t28\t70\tTOTAL\n" +
	"5\t1\t1\t1\t2\t1\t12\t70\t60\t25\t-1\t12,000\n" +
	"5\t1\t1\t1\t2\t2\t90\t70\t40\t25\t50\t \n"

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	out   string
	err   error
	onRun func(name string, args []string)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(name, args)
	}
	if f.err != nil {
		return nil, []byte("tesseract: cannot open input"), f.err
	}
	return []byte(f.out), nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCLIEngine(cfg Config, r Runner) *Engine {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Engine{cfg: cfg, rec: &cliRecognizer{cfg: cfg, runner: r}, runner: r, logger: quietLogger()}
}

func TestCLIEngine_LineLevel(t *testing.T) {
	r := &fakeRunner{out: sampleTSV}
	e := newCLIEngine(Config{Lang: "kor+eng", DetectOrientation: true, Level: LevelLine}, r)

	dets, _, err := e.Extract(context.Background(), "/tmp/receipt.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := []extract.RawDetection{
		{BBox: extract.BBox{10, 20, 210, 50}, Text: "영수증 TOTAL", Confidence: extract.Float(0.8)},
		{BBox: extract.BBox{12, 70, 72, 95}, Text: "12,000"},
	}
	if diff := cmp.Diff(want, dets); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}

	wantArgs := []string{"tesseract", "/tmp/receipt.png", "stdout", "-l", "kor+eng", "--psm", "1", "tsv"}
	if diff := cmp.Diff(wantArgs, r.calls[0]); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCLIEngine_WordLevelAndFlags(t *testing.T) {
	r := &fakeRunner{out: sampleTSV}
	e := newCLIEngine(Config{Level: LevelWord, OEM: 1, TessdataDir: "/usr/share/tessdata"}, r)

	dets, _, err := e.Extract(context.Background(), "img.jpg")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(dets) != 3 {
		t.Fatalf("got %d detections, want 3", len(dets))
	}
	if dets[1].Text != "TOTAL" || dets[1].BBox != (extract.BBox{100, 22, 210, 50}) {
		t.Errorf("unexpected word detection: %+v", dets[1])
	}
	if dets[2].Confidence != nil {
		t.Errorf("conf -1 should be absent, got %v", *dets[2].Confidence)
	}
	got := strings.Join(r.calls[0], " ")
	for _, frag := range []string{"--psm 3", "--oem 1", "--tessdata-dir /usr/share/tessdata"} {
		if !strings.Contains(got, frag) {
			t.Errorf("args %q missing %q", got, frag)
		}
	}
}

func TestCLIEngine_FailureIsClassified(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1")}
	e := newCLIEngine(Config{}, r)

	_, _, err := e.Extract(context.Background(), "missing.png")
	if !errors.Is(err, common.ErrEngine) {
		t.Fatalf("expected ErrEngine, got %v", err)
	}
	if !strings.Contains(common.ErrorMessage(err), "cannot open input") {
		t.Errorf("diagnostic lost: %q", common.ErrorMessage(err))
	}
}

func TestParseTSV_BadNumber(t *testing.T) {
	bad := "header\n5\t1\tx\t1\t1\t1\t0\t0\t1\t1\t90\tword\n"
	if _, err := parseTSV(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEngine_HEICConvertedFirst(t *testing.T) {
	var converted string
	r := &fakeRunner{out: sampleTSV}
	r.onRun = func(name string, args []string) {
		if name == "magick" {
			converted = args[1]
			_ = os.WriteFile(args[1], []byte("png"), 0o600)
		}
	}
	e := newCLIEngine(Config{HeicConverter: "magick"}, r)

	if _, _, err := e.Extract(context.Background(), "/uploads/photo.HEIC"); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(r.calls) != 2 || r.calls[0][0] != "magick" {
		t.Fatalf("expected magick then tesseract, got %v", r.calls)
	}
	if r.calls[1][1] != converted {
		t.Errorf("tesseract ran on %q, want converted %q", r.calls[1][1], converted)
	}
	if _, err := os.Stat(filepath.Dir(converted)); !os.IsNotExist(err) {
		t.Errorf("temp dir %q not cleaned up", filepath.Dir(converted))
	}
}

func TestEngine_HEICUnknownConverter(t *testing.T) {
	e := newCLIEngine(Config{HeicConverter: "paint"}, &fakeRunner{out: sampleTSV})
	_, _, err := e.Extract(context.Background(), "x.heif")
	if !errors.Is(err, common.ErrEngine) {
		t.Fatalf("expected ErrEngine, got %v", err)
	}
}

// slowRecognizer records the peak number of overlapping calls.
type slowRecognizer struct {
	serialized bool
	active     int32
	peak       int32
}

func (s *slowRecognizer) Serialized() bool { return s.serialized }
func (s *slowRecognizer) Close() error     { return nil }
func (s *slowRecognizer) Recognize(context.Context, string) ([]region, error) {
	n := atomic.AddInt32(&s.active, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&s.active, -1)
	return []region{{Quad: rectQuad(0, 0, 20, 20), Text: "x", Conf: 100}}, nil
}

func TestEngine_SerializesUnsafeBackend(t *testing.T) {
	rec := &slowRecognizer{serialized: true}
	e := &Engine{rec: rec, logger: quietLogger()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := e.Extract(context.Background(), "a.png"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if rec.peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", rec.peak)
	}
}

func TestConfig_PageSegMode(t *testing.T) {
	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{}, 3},
		{Config{DetectOrientation: true}, 1},
		{Config{DetectOrientation: true, PSM: 6}, 6},
	}
	for _, tt := range tests {
		if got := tt.cfg.pageSegMode(); got != tt.want {
			t.Errorf("pageSegMode(%+v) = %d, want %d", tt.cfg, got, tt.want)
		}
	}
}

func TestExecRunner_LogsFailure(t *testing.T) {
	var buf strings.Builder
	r := execRunner{logger: slog.New(slog.NewTextHandler(&buf, nil))}

	_, _, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "no-such-binary"), "--version")
	if err == nil {
		t.Fatal("Run() error = nil, want exec failure")
	}
	out := buf.String()
	if !strings.Contains(out, "msg=ocr.exec.failed") || !strings.Contains(out, "exit_code=-1") {
		t.Errorf("log = %q, want ocr.exec.failed with exit_code=-1", out)
	}
}
