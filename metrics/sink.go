package metrics

import (
	"sync"
)

// Sink receives scalar training metrics, one value per tag per step.
// Implementations decide durability: in memory, SQLite, or a binary
// event log.
type Sink interface {
	// AddScalar records one scalar value for a tag at a global step
	AddScalar(tag string, value float64, step int64) error

	// Close flushes and releases the sink's resources
	Close() error
}

// Scalar is one recorded metric point.
type Scalar struct {
	Tag   string  `json:"tag"`
	Value float64 `json:"value"`
	Step  int64   `json:"step"`
}

// MemorySink keeps scalars in memory, primarily for tests and short runs.
type MemorySink struct {
	mu      sync.Mutex
	scalars []Scalar
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) AddScalar(tag string, value float64, step int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalars = append(s.scalars, Scalar{Tag: tag, Value: value, Step: step})
	return nil
}

// Scalars returns all recorded points in insertion order.
func (s *MemorySink) Scalars() []Scalar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scalar(nil), s.scalars...)
}

// ScalarsFor returns the recorded points for one tag in insertion order.
func (s *MemorySink) ScalarsFor(tag string) []Scalar {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Scalar
	for _, sc := range s.scalars {
		if sc.Tag == tag {
			out = append(out, sc)
		}
	}
	return out
}

func (s *MemorySink) Close() error {
	return nil
}
