package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const MaxPoints = 1000

type Kind string

const (
	Counter   Kind = "counter"
	Gauge     Kind = "gauge"
	Histogram Kind = "histogram"
)

type Labels map[string]string

type Point struct {
	Timestamp time.Time
	Value     float64
	Labels    Labels
}

// series is a fixed-capacity ring of points; when full the oldest point is
// overwritten.
type series struct {
	kind   Kind
	points []Point
	head   int
	full   bool
}

func (s *series) add(p Point) {
	if len(s.points) < MaxPoints {
		s.points = append(s.points, p)
		return
	}
	s.points[s.head] = p
	s.head = (s.head + 1) % MaxPoints
	s.full = true
}

// values returns the series values oldest first.
func (s *series) values() []float64 {
	out := make([]float64, 0, len(s.points))
	if !s.full {
		for _, p := range s.points {
			out = append(out, p.Value)
		}
		return out
	}
	for i := 0; i < len(s.points); i++ {
		out = append(out, s.points[(s.head+i)%len(s.points)].Value)
	}
	return out
}

// Summary holds the statistics for one series. Only the fields relevant to
// Kind are populated.
type Summary struct {
	Kind    Kind     `json:"kind"`
	Count   int      `json:"count"`
	Total   *float64 `json:"total,omitempty"`
	Current *float64 `json:"current,omitempty"`
	Sum     *float64 `json:"sum,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Avg     *float64 `json:"avg,omitempty"`
	P50     *float64 `json:"p50,omitempty"`
	P95     *float64 `json:"p95,omitempty"`
	P99     *float64 `json:"p99,omitempty"`
}

type Store struct {
	mu     sync.Mutex
	series map[string]*series
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		series: make(map[string]*series),
		now:    time.Now,
	}
}

func (s *Store) RecordCounter(name string, value float64, labels Labels) {
	s.record(name, Counter, value, labels)
}

func (s *Store) Increment(name string, labels Labels) {
	s.record(name, Counter, 1, labels)
}

func (s *Store) RecordGauge(name string, value float64, labels Labels) {
	s.record(name, Gauge, value, labels)
}

func (s *Store) RecordHistogram(name string, value float64, labels Labels) {
	s.record(name, Histogram, value, labels)
}

// record appends a point. A series keeps the kind it was created with; later
// calls naming another kind are folded into the original one.
func (s *Store) record(name string, kind Kind, value float64, labels Labels) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		sr = &series{kind: kind}
		s.series[name] = sr
	}
	sr.add(Point{Timestamp: s.now(), Value: value, Labels: labels})
}

// Points returns a snapshot of a series, oldest first.
func (s *Store) Points(name string) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[name]
	if !ok {
		return nil
	}
	out := make([]Point, 0, len(sr.points))
	start := 0
	if sr.full {
		start = sr.head
	}
	for i := 0; i < len(sr.points); i++ {
		out = append(out, sr.points[(start+i)%len(sr.points)])
	}
	return out
}

func (s *Store) Summary() map[string]Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Summary, len(s.series))
	for name, sr := range s.series {
		values := sr.values()
		if len(values) == 0 {
			continue
		}
		out[name] = summarize(sr.kind, values)
	}
	return out
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[string]*series)
}

func summarize(kind Kind, values []float64) Summary {
	n := len(values)
	sum := 0.0
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		sum += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	avg := sum / float64(n)

	switch kind {
	case Gauge:
		return Summary{
			Kind:    kind,
			Count:   n,
			Current: ptr(values[n-1]),
			Min:     ptr(minV),
			Max:     ptr(maxV),
			Avg:     ptr(avg),
		}
	case Histogram:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		return Summary{
			Kind:  kind,
			Count: n,
			Sum:   ptr(sum),
			Min:   ptr(sorted[0]),
			Max:   ptr(sorted[n-1]),
			Avg:   ptr(avg),
			P50:   ptr(percentile(sorted, 0.50)),
			P95:   ptr(percentile(sorted, 0.95)),
			P99:   ptr(percentile(sorted, 0.99)),
		}
	default:
		return Summary{Kind: Counter, Count: n, Total: ptr(sum)}
	}
}

// percentile picks sorted[floor(n*p)], clamped to the last element.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ptr(v float64) *float64 {
	return &v
}
