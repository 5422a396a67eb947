package canbus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/can"
)

// SocketCAN ID flag and masks, see linux/can.h.
const (
	canEffFlag uint32 = 1 << 31
	canEffMask uint32 = 0x1FFFFFFF
	canSffMask uint32 = 0x7FF
)

// WithLogger sets the logger for the reader.
func WithLogger(logger *slog.Logger) func(r *Reader) {
	return func(r *Reader) {
		r.logger = logger.With(
			slog.String("bus", string(r.bus)),
			slog.String("interface", r.ifaceName),
		)
	}
}

// Reader binds one logical bus to a SocketCAN interface and streams received
// frames into a channel. One Reader per physical bus; each owns exactly one
// producer goroutine.
type Reader struct {
	bus       Bus
	ifaceName string

	isReading atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger *slog.Logger
}

// NewReader creates a reader for the given bus on the given SocketCAN
// interface name (e.g. "can0").
func NewReader(bus Bus, ifaceName string, options ...func(r *Reader)) *Reader {
	r := Reader{
		bus:       bus,
		ifaceName: ifaceName,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Bus returns the logical bus this reader serves.
func (r *Reader) Bus() Bus {
	return r.bus
}

// BeginReading connects to the interface and starts delivering frames to the
// messages channel until the context is cancelled or the transport fails.
// The returned channel is closed once reading has fully stopped and carries
// the terminal error, if any.
func (r *Reader) BeginReading(ctx context.Context, messages chan<- Message) (<-chan error, error) {
	if r.isReading.Load() {
		return nil, fmt.Errorf("reader is already running")
	}

	conn, err := can.NewBusForInterfaceWithName(r.ifaceName)
	if err != nil {
		return nil, fmt.Errorf("opening CAN interface %s: %w", r.ifaceName, err)
	}

	r.isReading.Store(true)
	ctx, r.cancel = context.WithCancel(ctx)

	conn.SubscribeFunc(func(frm can.Frame) {
		msg := Message{Bus: r.bus, Frame: fromSocketCAN(frm)}
		select {
		case messages <- msg:
		case <-ctx.Done():
		}
	})

	readingStopped := make(chan error)

	r.wg.Add(1)
	go func() {
		defer close(readingStopped)

		r.logger.Info("starting frame collection...")

		done := make(chan error, 1)
		go func() {
			done <- conn.ConnectAndPublish()
		}()

		var terminal error
		select {
		case <-ctx.Done():
			if err := conn.Disconnect(); err != nil {
				r.logger.Error(err.Error())
			}
			<-done // wait for ConnectAndPublish to return

		case err := <-done:
			if err != nil {
				r.logger.Error(err.Error())
				terminal = fmt.Errorf("reading %s bus: %w", r.bus, err)
			}
		}

		r.logger.Info("frame collection stopped")

		r.isReading.Store(false)
		r.wg.Done()

		if terminal != nil {
			readingStopped <- terminal
		}
	}()

	return readingStopped, nil
}

// Stop cancels the reader and waits for its goroutine to exit.
func (r *Reader) Stop() {
	if !r.isReading.Load() {
		return // already stopped
	}

	r.cancel()
	r.wg.Wait()
}

// IsReading returns true if the reader is running.
func (r *Reader) IsReading() bool {
	return r.isReading.Load()
}

func fromSocketCAN(frm can.Frame) Frame {
	extended := frm.ID&canEffFlag != 0

	id := frm.ID
	if extended {
		id &= canEffMask
	} else {
		id &= canSffMask
	}

	length := int(frm.Length)
	if length > len(frm.Data) {
		length = len(frm.Data)
	}
	data := make([]byte, length)
	copy(data, frm.Data[:length])

	return Frame{
		ID:        id,
		Extended:  extended,
		Timestamp: time.Now(),
		Data:      data,
	}
}
