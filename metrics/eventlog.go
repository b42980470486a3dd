package metrics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventLogSink appends scalars to a file as length-delimited protobuf
// Struct records. The format is append-only and stream-readable, suitable
// for tailing a live run.
type EventLogSink struct {
	file *os.File
	w    *bufio.Writer
}

// NewEventLogSink opens the log file for appending, creating it if absent.
func NewEventLogSink(path string) (*EventLogSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %v", err)
	}
	return &EventLogSink{
		file: file,
		w:    bufio.NewWriter(file),
	}, nil
}

func (s *EventLogSink) AddScalar(tag string, value float64, step int64) error {
	record, err := structpb.NewStruct(map[string]any{
		"tag":       tag,
		"value":     value,
		"step":      step,
		"wall_time": float64(time.Now().UnixNano()) / 1e9,
	})
	if err != nil {
		return fmt.Errorf("failed to build event record: %v", err)
	}
	if _, err := protodelim.MarshalTo(s.w, record); err != nil {
		return fmt.Errorf("failed to write event record: %v", err)
	}
	return nil
}

func (s *EventLogSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush event log: %v", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close event log: %v", err)
	}
	return nil
}

// ReadEventLog decodes all scalar records from an event log stream.
func ReadEventLog(r io.Reader) ([]Scalar, error) {
	br := bufio.NewReader(r)
	var out []Scalar
	for {
		record := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(br, record)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event record: %v", err)
		}

		fields := record.GetFields()
		out = append(out, Scalar{
			Tag:   fields["tag"].GetStringValue(),
			Value: fields["value"].GetNumberValue(),
			Step:  int64(fields["step"].GetNumberValue()),
		})
	}
}

// ReadEventLogFile decodes all scalar records from an event log file.
func ReadEventLogFile(path string) ([]Scalar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %v", err)
	}
	defer file.Close()
	return ReadEventLog(file)
}
