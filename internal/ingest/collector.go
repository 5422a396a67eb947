// Package ingest connects the bus-side producers to the telemetry buffer and
// the optional logging session.
package ingest

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/datalog"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// WithLogger sets the logger for the collector.
func WithLogger(logger *slog.Logger) func(*Collector) {
	return func(c *Collector) {
		c.logger = logger
	}
}

// Collector is the single entry point producers call after decoding and
// routing a frame. Every sample lands in the telemetry buffer; while a
// logging session is active the same sample (and the raw frames) are also
// enqueued for persistence.
//
// The session reference is an atomic pointer: the hot submit path reads it
// without taking a lock, and only StartSession/StopSession swap it.
type Collector struct {
	buffer *telemetry.Buffer
	logger *slog.Logger

	session atomic.Pointer[datalog.Session]

	// sessionMu serializes start/stop; it is never taken on the submit path.
	sessionMu sync.Mutex
}

// NewCollector creates a collector over the given buffer.
func NewCollector(buffer *telemetry.Buffer, options ...func(*Collector)) *Collector {
	c := Collector{
		buffer: buffer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Buffer exposes the telemetry buffer for the presentation-side reader.
func (c *Collector) Buffer() *telemetry.Buffer {
	return c.buffer
}

// Submit stores one resolved sample. Returns false when the channel key is
// out of the configured range; the sample is then neither buffered nor
// logged.
func (c *Collector) Submit(domain telemetry.Domain, module, cell int, timestampMillis, value float64) bool {
	if !c.buffer.Write(domain, module, cell, timestampMillis, value) {
		return false
	}

	if s := c.session.Load(); s != nil {
		s.EnqueueSample(domain, module, cell, timestampMillis, value)
	}
	return true
}

// SubmitFrame forwards one raw frame to the active session's trace log.
// A no-op when no session is running.
func (c *Collector) SubmitFrame(bus canbus.Bus, frame canbus.Frame) {
	if s := c.session.Load(); s != nil {
		s.EnqueueFrame(bus, frame)
	}
}

// StartSession starts the given session and installs it on the submit path.
// Starting while another session is running is rejected.
func (c *Collector) StartSession(s *datalog.Session) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session.Load() != nil {
		return datalog.ErrSessionActive
	}
	if err := s.Start(); err != nil {
		return err
	}

	c.session.Store(s)
	c.logger.Info("Logging session started", "dir", s.Dir())
	return nil
}

// StopSession detaches and stops the running session, returning it so the
// caller can relocate or discard its directory. Stopping when nothing runs
// returns ErrSessionInactive.
func (c *Collector) StopSession() (*datalog.Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	s := c.session.Load()
	if s == nil {
		return nil, datalog.ErrSessionInactive
	}

	// Detach first so producers stop enqueuing, then drain and close.
	c.session.Store(nil)
	if _, err := s.Stop(); err != nil {
		return s, err
	}

	c.logger.Info("Logging session stopped", "dir", s.Dir())
	return s, nil
}

// SessionActive reports whether a logging session is currently installed.
func (c *Collector) SessionActive() bool {
	return c.session.Load() != nil
}
