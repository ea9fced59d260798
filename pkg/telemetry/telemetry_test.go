package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTrackWithoutInitIsNoop(t *testing.T) {
	tr := Track("noop")
	tr.Mark("a")
	tr.Finish()
	tr.Finish()
}

func TestSampledTraceIsWritten(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(Options{Dir: dir, SampleRate: 1, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tr := tl.Track("messages.append")
	tr.Mark("validate")
	tr.Finish()
	tl.Close()

	b, err := os.ReadFile(filepath.Join(dir, "messages.append.jsonl"))
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	if !strings.Contains(string(b), `"validate"`) {
		t.Fatalf("trace missing step: %s", b)
	}
}

func TestUnsampledTraceIsSkipped(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tl.Track("quiet").Finish()
	tl.Close()
	if _, err := os.Stat(filepath.Join(dir, "quiet.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no trace file, got err=%v", err)
	}
}
