// Package ndjson implements newline-delimited JSON encoding for the
// event journal: one record per line, flushed on every write.
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// MaxRecordSize is the maximum NDJSON record size (64 KiB)
const MaxRecordSize = 64 * 1024

// Encoder writes NDJSON records to an output stream
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// Encode writes a record as a single JSON line and flushes it
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if len(data) > MaxRecordSize {
		e.logger.Error("record exceeds size limit", "size", len(data), "limit", MaxRecordSize)
		return fmt.Errorf("record size %d exceeds limit %d", len(data), MaxRecordSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder reads NDJSON records from an input stream
type Decoder struct {
	scanner *bufio.Scanner
	lineNum int
}

// NewDecoder creates a new NDJSON decoder
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxRecordSize)
	scanner.Buffer(buf, MaxRecordSize)

	return &Decoder{scanner: scanner}
}

// Decode reads the next record, skipping empty lines. Returns io.EOF at
// the end of the stream.
func (d *Decoder) Decode(v any) error {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return fmt.Errorf("scanner error at line %d: %w", d.lineNum, err)
			}
			return io.EOF
		}
		d.lineNum++

		data := d.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to unmarshal line %d: %w", d.lineNum, err)
		}
		return nil
	}
}
