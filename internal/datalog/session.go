package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

const (
	// DefaultDrainInterval is the pause between drain passes. It bounds both
	// CPU use and how long a stop request can take to be honored.
	DefaultDrainInterval = 10 * time.Millisecond

	// drainJoinTimeout bounds the wait for the drain goroutine at stop time.
	drainJoinTimeout = 2 * time.Second
)

var (
	// ErrSessionActive is returned by Start on an already running session.
	ErrSessionActive = errors.New("session is already active")

	// ErrSessionInactive is returned by Stop on a session that is not running.
	ErrSessionInactive = errors.New("session is not active")
)

// ChannelSample is one queued sensor reading addressed to a single CSV file.
type ChannelSample struct {
	Module    int
	Cell      int
	Timestamp float64 // Unix milliseconds
	Value     float64
}

// channelFile is one open per-cell CSV destination. The csv.Writer buffers,
// so it must be flushed before the file is closed.
type channelFile struct {
	file *os.File
	w    *csv.Writer
}

// WithDrainInterval overrides the pause between drain passes.
func WithDrainInterval(interval time.Duration) func(*Session) {
	return func(s *Session) {
		if interval > 0 {
			s.drainInterval = interval
		}
	}
}

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session owns one bounded interval of durable logging: the temporary
// directory, every per-cell CSV writer (opened eagerly at start), the two
// raw-frame trace writers, the queues producers feed, and the single drain
// goroutine that empties them.
//
// Producers only ever touch EnqueueSample/EnqueueFrame, which are cheap
// no-ops while the session is inactive. All file handles are owned by the
// drain goroutine; the mutex only arbitrates drain writes against stop-time
// closing.
type Session struct {
	layout        telemetry.Layout
	drainInterval time.Duration
	logger        *slog.Logger

	tempDir string

	voltageQueue Queue[ChannelSample]
	tempQueue    Queue[ChannelSample]
	batteryQueue Queue[canbus.Frame]
	vehicleQueue Queue[canbus.Frame]

	// active gates the producer-side enqueue path. It is flipped on only
	// after every file is ready, and off first thing during stop.
	active atomic.Bool

	mu           sync.Mutex
	voltageFiles []*channelFile // module*cells+cell, nil after close
	tempFiles    []*channelFile
	traces       map[canbus.Bus]*TraceWriter

	stop      chan struct{}
	drainDone chan struct{}

	startedAt time.Time
	stoppedAt time.Time

	voltageWritten atomic.Uint64
	tempWritten    atomic.Uint64
	batteryWritten atomic.Uint64
	vehicleWritten atomic.Uint64
}

// NewSession creates an idle session for the given layout. No filesystem
// activity happens until Start.
func NewSession(layout telemetry.Layout, options ...func(*Session)) *Session {
	s := Session{
		layout:        layout,
		drainInterval: DefaultDrainInterval,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Dir returns the session's temporary directory, empty before Start.
func (s *Session) Dir() string {
	return s.tempDir
}

// IsActive returns true while the session accepts data.
func (s *Session) IsActive() bool {
	return s.active.Load()
}

// Start creates the temporary directory tree — one CSV per configured
// channel, pre-seeded with its header, plus one trace file per bus — and only
// then starts the drain goroutine and marks the session active, so producers
// can never enqueue into a session whose files are not ready. A failure
// anywhere leaves no open handles and no directory behind.
func (s *Session) Start() error {
	if s.active.Load() {
		return ErrSessionActive
	}

	tempDir, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	s.tempDir = tempDir

	if err = s.createFiles(); err != nil {
		s.closeFiles()
		s.Cleanup()
		return err
	}

	s.stop = make(chan struct{})
	s.drainDone = make(chan struct{})
	s.startedAt = time.Now()
	s.active.Store(true)

	go s.drainLoop()

	s.logger.Info("logging session started", slog.String("dir", s.tempDir))
	return nil
}

// EnqueueSample queues one sensor reading for persistence. A no-op while the
// session is inactive; never blocks on file I/O.
func (s *Session) EnqueueSample(domain telemetry.Domain, module, cell int, timestamp, value float64) {
	if !s.active.Load() {
		return
	}

	sample := ChannelSample{Module: module, Cell: cell, Timestamp: timestamp, Value: value}
	if domain == telemetry.Voltage {
		s.voltageQueue.Push(sample)
	} else {
		s.tempQueue.Push(sample)
	}
}

// EnqueueFrame queues one raw bus frame for the bus's trace file. A no-op
// while the session is inactive.
func (s *Session) EnqueueFrame(bus canbus.Bus, frame canbus.Frame) {
	if !s.active.Load() {
		return
	}

	if bus == canbus.BusBattery {
		s.batteryQueue.Push(frame)
	} else {
		s.vehicleQueue.Push(frame)
	}
}

// Stop ends the session: producers are cut off first, the drain goroutine is
// joined with a bounded wait, one final full drain pass rescues anything
// enqueued before the cut-off, files are closed, and the summary is written
// last. Returns the temporary directory holding the finished session.
func (s *Session) Stop() (string, error) {
	if !s.active.CompareAndSwap(true, false) {
		return s.tempDir, ErrSessionInactive
	}

	close(s.stop)

	select {
	case <-s.drainDone:
	case <-time.After(drainJoinTimeout):
		s.logger.Warn("drain goroutine did not stop in time, closing files anyway")
	}

	s.mu.Lock()
	s.drainPassLocked() // nothing enqueued before the flag flip may be lost
	s.closeFilesLocked()
	s.mu.Unlock()

	s.stoppedAt = time.Now()
	if err := s.writeSummary(); err != nil {
		s.logger.Error(err.Error())
	}

	s.logger.Info("logging session stopped",
		slog.String("dir", s.tempDir),
		slog.Duration("duration", s.stoppedAt.Sub(s.startedAt)),
	)
	return s.tempDir, nil
}

// MoveTo relocates the finished session into destination. An existing
// destination is merged (contents copied into it, never truncated); a missing
// one receives the whole tree. The temporary directory is gone on success.
func (s *Session) MoveTo(destination string) error {
	if s.tempDir == "" {
		return fmt.Errorf("session has no data directory")
	}
	if s.active.Load() {
		return ErrSessionActive
	}

	if parent := filepath.Dir(destination); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("creating destination parent: %w", err)
		}
	}

	if _, err := os.Stat(destination); err == nil {
		if err = mergeTree(s.tempDir, destination); err != nil {
			return fmt.Errorf("merging session into %s: %w", destination, err)
		}
		return os.RemoveAll(s.tempDir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking destination: %w", err)
	}

	if err := os.Rename(s.tempDir, destination); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to a copy.
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	if err := mergeTree(s.tempDir, destination); err != nil {
		return fmt.Errorf("copying session into %s: %w", destination, err)
	}
	return os.RemoveAll(s.tempDir)
}

// Cleanup removes the session's temporary directory if it still exists.
// Idempotent and safe to call in any state; an active session is stopped
// first. Filesystem errors are logged, never propagated.
func (s *Session) Cleanup() {
	if s.active.Load() {
		if _, err := s.Stop(); err != nil && !errors.Is(err, ErrSessionInactive) {
			s.logger.Error(err.Error())
		}
	}

	if s.tempDir == "" {
		return
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		s.logger.Error(fmt.Sprintf("removing session directory: %s", err))
	}
}

// SamplesWritten returns the number of samples persisted for a domain.
func (s *Session) SamplesWritten(domain telemetry.Domain) uint64 {
	if domain == telemetry.Voltage {
		return s.voltageWritten.Load()
	}
	return s.tempWritten.Load()
}

func (s *Session) createFiles() error {
	for _, domain := range []telemetry.Domain{telemetry.Voltage, telemetry.Temperature} {
		modules, cells := s.layout.Dims(domain)
		files := make([]*channelFile, modules*cells)

		for m := 0; m < modules; m++ {
			dir := filepath.Join(s.tempDir, DomainDirName(domain), moduleDirName(m))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}

			for c := 0; c < cells; c++ {
				path := filepath.Join(dir, cellFileName(domain, m, c))
				file, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("creating %s: %w", path, err)
				}

				w := csv.NewWriter(file)
				if err = w.Write([]string{"timestamp", "value"}); err == nil {
					w.Flush()
					err = w.Error()
				}
				if err != nil {
					file.Close()
					return fmt.Errorf("writing header to %s: %w", path, err)
				}
				files[m*cells+c] = &channelFile{file: file, w: w}
			}
		}

		if domain == telemetry.Voltage {
			s.voltageFiles = files
		} else {
			s.tempFiles = files
		}
	}

	s.traces = make(map[canbus.Bus]*TraceWriter, 2)
	for _, bus := range []canbus.Bus{canbus.BusBattery, canbus.BusVehicle} {
		tw, err := NewTraceWriter(filepath.Join(s.tempDir, TraceFileName(bus)))
		if err != nil {
			return err
		}
		s.traces[bus] = tw
	}
	return nil
}

func (s *Session) drainLoop() {
	defer close(s.drainDone)

	t := time.NewTicker(s.drainInterval)
	defer t.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.mu.Lock()
			s.drainPassLocked()
			s.mu.Unlock()
		}
	}
}

// drainPassLocked empties every queue completely and writes each item out.
// Caller holds s.mu. Write failures skip the affected item; the session keeps
// going on a broken disk rather than stalling acquisition.
func (s *Session) drainPassLocked() {
	for _, sample := range s.voltageQueue.DrainAll() {
		if s.writeSampleLocked(s.voltageFiles, s.layout.VoltageCells, sample) {
			s.voltageWritten.Add(1)
		}
	}
	for _, sample := range s.tempQueue.DrainAll() {
		if s.writeSampleLocked(s.tempFiles, s.layout.TempCells, sample) {
			s.tempWritten.Add(1)
		}
	}
	s.drainFramesLocked(canbus.BusBattery, &s.batteryQueue)
	s.drainFramesLocked(canbus.BusVehicle, &s.vehicleQueue)
}

func (s *Session) writeSampleLocked(files []*channelFile, cells int, sample ChannelSample) bool {
	idx := sample.Module*cells + sample.Cell
	if idx < 0 || idx >= len(files) || files[idx] == nil {
		return false
	}

	// Milliseconds on the wire, seconds on disk.
	row := []string{
		strconv.FormatFloat(sample.Timestamp/1000.0, 'f', -1, 64),
		strconv.FormatFloat(sample.Value, 'g', -1, 64),
	}
	if err := files[idx].w.Write(row); err != nil {
		s.logger.Error(fmt.Sprintf("writing sample row: %s", err))
		return false
	}
	return true
}

func (s *Session) drainFramesLocked(bus canbus.Bus, q *Queue[canbus.Frame]) {
	tw := s.traces[bus]
	for _, frame := range q.DrainAll() {
		if tw == nil {
			continue
		}
		if err := tw.Write(frame); err != nil {
			s.logger.Error(fmt.Sprintf("writing %s trace: %s", bus, err))
			continue
		}
		if bus == canbus.BusBattery {
			s.batteryWritten.Add(1)
		} else {
			s.vehicleWritten.Add(1)
		}
	}
}

func (s *Session) closeFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFilesLocked()
}

func (s *Session) closeFilesLocked() {
	for _, files := range [][]*channelFile{s.voltageFiles, s.tempFiles} {
		for i, cf := range files {
			if cf == nil {
				continue
			}
			cf.w.Flush()
			if err := cf.w.Error(); err != nil {
				s.logger.Error(fmt.Sprintf("flushing sample file: %s", err))
			}
			if err := cf.file.Close(); err != nil {
				s.logger.Error(fmt.Sprintf("closing sample file: %s", err))
			}
			files[i] = nil
		}
	}

	for bus, tw := range s.traces {
		if tw == nil {
			continue
		}
		if err := tw.Close(); err != nil {
			s.logger.Error(fmt.Sprintf("closing %s trace: %s", bus, err))
		}
		s.traces[bus] = nil
	}
}

func mergeTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
