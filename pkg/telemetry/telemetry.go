package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketchat/pkg/logger"
	"marketchat/pkg/timeutil"
)

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	Steps    []Step    `json:"steps"`
	TotalMS  float64   `json:"total_ms"`
	lastMark time.Time
	tel      *Telemetry
}

type Options struct {
	Dir           string
	BufferSize    int
	QueueCapacity int
	FlushInterval time.Duration
	MaxFileSize   int64
	// SampleRate is the fraction of traces persisted (0..1). Traces slower
	// than SlowThreshold are always persisted and logged.
	SampleRate    float64
	SlowThreshold time.Duration
}

// Telemetry writes finished traces to per-operation jsonl files in the
// background.
type Telemetry struct {
	opts     Options
	mu       sync.Mutex
	files    map[string]*os.File
	buffers  map[string]*bufio.Writer
	traces   chan *Trace
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var (
	globalMu sync.RWMutex
	tel      *Telemetry
)

// Init installs the global telemetry instance.
func Init(opts Options) error {
	t, err := New(opts)
	if err != nil {
		return err
	}
	globalMu.Lock()
	tel = t
	globalMu.Unlock()
	return nil
}

// Track starts a trace on the global instance. Without Init the trace is
// a no-op.
func Track(name string) *Trace {
	globalMu.RLock()
	t := tel
	globalMu.RUnlock()
	return t.Track(name)
}

// Close stops the global instance, flushing buffered traces.
func Close() {
	globalMu.Lock()
	t := tel
	tel = nil
	globalMu.Unlock()
	if t != nil {
		t.Close()
	}
}

func New(opts Options) (*Telemetry, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 8 << 10
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 << 20
	}
	t := &Telemetry{
		opts:    opts,
		files:   make(map[string]*os.File),
		buffers: make(map[string]*bufio.Writer),
		traces:  make(chan *Trace, opts.QueueCapacity),
		stopCh:  make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writerLoop()
	return t, nil
}

func (t *Telemetry) Track(name string) *Trace {
	now := timeutil.Now()
	return &Trace{Name: name, Start: now, lastMark: now, tel: t}
}

// Mark records the elapsed duration since the last mark.
func (tr *Trace) Mark(label string) {
	if tr.tel == nil {
		return
	}
	now := timeutil.Now()
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: now.Sub(tr.lastMark).Seconds() * 1000})
	tr.lastMark = now
}

// Finish finalizes the trace. Safe to call multiple times or via defer.
func (tr *Trace) Finish() {
	t := tr.tel
	if t == nil {
		return
	}
	tr.tel = nil
	total := timeutil.Now().Sub(tr.Start)
	tr.TotalMS = total.Seconds() * 1000

	var sum float64
	for _, s := range tr.Steps {
		sum += s.Duration
	}
	if remaining := tr.TotalMS - sum; remaining > 0.001 {
		tr.Steps = append(tr.Steps, Step{Name: "unmarked", Duration: remaining})
	}

	slow := t.opts.SlowThreshold > 0 && total >= t.opts.SlowThreshold
	if slow {
		logger.Warn("slow_operation", "op", tr.Name, "total_ms", tr.TotalMS, "steps", len(tr.Steps))
	}
	if !slow && (t.opts.SampleRate <= 0 || rand.Float64() >= t.opts.SampleRate) {
		return
	}
	select {
	case t.traces <- tr:
	default:
		// queue full; drop rather than block the caller
	}
}

func (t *Telemetry) writerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	write := func(tr *Trace) {
		data, err := json.Marshal(tr)
		if err != nil {
			return
		}
		t.mu.Lock()
		b := t.bufferFor(tr.Name)
		b.Write(data)
		b.WriteByte('\n')
		t.mu.Unlock()
	}

	for {
		select {
		case tr := <-t.traces:
			write(tr)

		case <-ticker.C:
			t.mu.Lock()
			for name, b := range t.buffers {
				b.Flush()
				f := t.files[name]
				if fi, err := f.Stat(); err == nil && fi.Size() > t.opts.MaxFileSize {
					f.Close()
					newF, err := os.OpenFile(f.Name(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
					if err != nil {
						delete(t.files, name)
						delete(t.buffers, name)
						continue
					}
					t.files[name] = newF
					t.buffers[name] = bufio.NewWriterSize(newF, t.opts.BufferSize)
					fmt.Fprintf(os.Stderr, "telemetry: truncated %s (size exceeded %d bytes)\n", name, t.opts.MaxFileSize)
				}
			}
			t.mu.Unlock()

		case <-t.stopCh:
			for {
				select {
				case tr := <-t.traces:
					write(tr)
					continue
				default:
				}
				break
			}
			t.mu.Lock()
			for _, b := range t.buffers {
				b.Flush()
			}
			for _, f := range t.files {
				f.Sync()
				f.Close()
			}
			t.mu.Unlock()
			return
		}
	}
}

func (t *Telemetry) bufferFor(op string) *bufio.Writer {
	if b, ok := t.buffers[op]; ok {
		return b
	}
	path := filepath.Join(t.opts.Dir, op+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to open %s: %v\n", path, err)
		return bufio.NewWriter(os.Stderr)
	}
	b := bufio.NewWriterSize(f, t.opts.BufferSize)
	t.files[op] = f
	t.buffers[op] = b
	return b
}

func (t *Telemetry) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
	})
}
