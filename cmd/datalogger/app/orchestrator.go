package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
	"github.com/helios-ev/bms-datalogger/internal/datalog"
	"github.com/helios-ev/bms-datalogger/internal/ingest"
	"github.com/helios-ev/bms-datalogger/internal/routing"
	"github.com/helios-ev/bms-datalogger/internal/storage"
	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// WithRecording enables the session recorder: every run produces a session
// directory under dataDir and a row in the catalog.
func WithRecording(catalog *storage.Catalog, dataDir string, drainInterval time.Duration) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.catalog = catalog
		o.dataDir = dataDir
		o.drainInterval = drainInterval
	}
}

// Orchestrator manages frame collection across the configured buses, decodes
// battery broadcasts into per-cell samples, and feeds everything through the
// collector. With recording enabled it also runs the logging session for the
// lifetime of the process and files the result in the catalog.
type Orchestrator struct {
	readers  []*canbus.Reader
	decoders map[canbus.Bus]canbus.Decoder

	collector *ingest.Collector
	logger    *slog.Logger

	catalog       *storage.Catalog
	dataDir       string
	drainInterval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(collector *ingest.Collector, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		decoders:  make(map[canbus.Bus]canbus.Decoder),
		collector: collector,
		logger:    logger,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

// AddReader registers a bus reader and, optionally, the decoder for its
// traffic. A nil decoder means frames from that bus are traced but never
// turned into samples.
func (o *Orchestrator) AddReader(reader *canbus.Reader, decoder canbus.Decoder) {
	o.readers = append(o.readers, reader)
	if decoder != nil {
		o.decoders[reader.Bus()] = decoder
	}
}

// Run begins synchronized frame collection across all buses and blocks until
// the context is cancelled or a reader fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.readers) == 0 {
		return fmt.Errorf("no bus readers configured")
	}

	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	var session *datalog.Session
	var sessionID int64
	if o.catalog != nil {
		var err error
		layout := o.collector.Buffer().Layout()

		if sessionID, err = o.catalog.CreateSession(ctx, layout, o.collector.Buffer().Capacity()); err != nil {
			return fmt.Errorf("registering session: %w", err)
		}

		session = datalog.NewSession(layout,
			datalog.WithDrainInterval(o.drainInterval),
			datalog.WithLogger(o.logger))
		if err = o.collector.StartSession(session); err != nil {
			return fmt.Errorf("starting session: %w", err)
		}
	}

	startGate := make(chan struct{})
	messages := make(chan canbus.Message, 64)

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		o.handleMessages(messages)
	}()

	for _, reader := range o.readers {
		o.wg.Add(1)
		go o.beginReading(ctx, reader, messages, startGate)
	}

	close(startGate) // Start the reader goroutines

	o.wg.Wait()
	o.cancel()

	close(messages)
	<-consumed

	if session != nil {
		return o.finishSession(session, sessionID)
	}
	return nil
}

func (o *Orchestrator) beginReading(ctx context.Context, reader *canbus.Reader, messages chan<- canbus.Message, startGate chan struct{}) {
	defer o.wg.Done()

	<-startGate

	done, err := reader.BeginReading(ctx, messages)
	if err != nil {
		o.logger.Error(err.Error())
		o.cancel() // signal to other goroutines about fatal
		return
	}

	// Wait for the reader goroutine to finish. A terminal transport error
	// takes down the whole run so the session closes cleanly.
	if err = <-done; err != nil {
		o.logger.Error(err.Error())
		o.cancel()
	}
}

func (o *Orchestrator) handleMessages(messages <-chan canbus.Message) {
	layout := o.collector.Buffer().Layout()

	for msg := range messages {
		o.collector.SubmitFrame(msg.Bus, msg.Frame)

		decoder, ok := o.decoders[msg.Bus]
		if !ok {
			continue
		}

		signals, ok := decoder.Decode(msg.Frame)
		if !ok {
			continue
		}

		timestamp := float64(msg.Frame.Timestamp.UnixNano()) / float64(time.Millisecond)
		for name, value := range signals {
			route, ok := routing.Resolve(layout, name)
			if !ok {
				continue
			}
			o.collector.Submit(route.Domain, route.Module, route.Cell, timestamp, value)
		}
	}
}

func (o *Orchestrator) finishSession(session *datalog.Session, sessionID int64) error {
	if _, err := o.collector.StopSession(); err != nil {
		session.Cleanup()
		return fmt.Errorf("stopping session: %w", err)
	}

	// The run context is gone by now; catalog updates get their own.
	ctx := context.Background()

	destination := filepath.Join(o.dataDir, fmt.Sprintf("session_%s", time.Now().UTC().Format("20060102_150405")))
	if err := session.MoveTo(destination); err != nil {
		session.Cleanup()

		if dbErr := o.catalog.DiscardSession(ctx, sessionID); dbErr != nil {
			o.logger.Error(dbErr.Error())
		}
		return fmt.Errorf("moving session files: %w", err)
	}

	voltage := session.SamplesWritten(telemetry.Voltage)
	temp := session.SamplesWritten(telemetry.Temperature)
	if err := o.catalog.CompleteSession(ctx, sessionID, int64(voltage), int64(temp), destination); err != nil {
		return fmt.Errorf("completing session: %w", err)
	}

	o.logger.Info("Session recorded",
		slog.String("destination", destination),
		slog.Uint64("voltageSamples", voltage),
		slog.Uint64("tempSamples", temp))
	return nil
}
