package datalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/helios-ev/bms-datalogger/internal/canbus"
)

// FrameRecord is the on-disk form of one raw bus frame. Records are appended
// as a plain CBOR sequence in arrival order, one file per physical bus.
type FrameRecord struct {
	ID        uint32  `cbor:"1,keyasint"`
	Extended  bool    `cbor:"2,keyasint"`
	Timestamp float64 `cbor:"3,keyasint"` // Unix milliseconds
	Data      []byte  `cbor:"4,keyasint"`
}

// TraceWriter appends raw frames to a binary trace file. It is owned
// exclusively by the session drain goroutine and is not safe for concurrent
// use.
type TraceWriter struct {
	file   *os.File
	buf    *bufio.Writer
	enc    *cbor.Encoder
	frames uint64
}

// NewTraceWriter creates (truncating) the trace file at path.
func NewTraceWriter(path string) (*TraceWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &TraceWriter{
		file: file,
		buf:  buf,
		enc:  cbor.NewEncoder(buf),
	}, nil
}

// Write appends one frame record.
func (w *TraceWriter) Write(f canbus.Frame) error {
	rec := FrameRecord{
		ID:        f.ID,
		Extended:  f.Extended,
		Timestamp: float64(f.Timestamp.UnixNano()) / 1e6,
		Data:      f.Data,
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encoding frame record: %w", err)
	}

	w.frames++
	return nil
}

// Frames returns the number of records written so far.
func (w *TraceWriter) Frames() uint64 {
	return w.frames
}

// Size returns the number of bytes flushed to disk so far.
func (w *TraceWriter) Size() (int64, error) {
	if err := w.buf.Flush(); err != nil {
		return 0, err
	}

	info, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close flushes buffered records and closes the file. Safe to call once.
func (w *TraceWriter) Close() (err error) {
	if fErr := w.buf.Flush(); fErr != nil {
		err = fErr
	}
	if cErr := w.file.Close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}

// ReadTrace decodes every frame record from a trace file, in write order.
// Used by post-processing tools and tests; the logger itself only appends.
func ReadTrace(path string) ([]FrameRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer file.Close()

	dec := cbor.NewDecoder(bufio.NewReader(file))

	var records []FrameRecord
	for {
		var rec FrameRecord
		if err = dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("decoding frame record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
