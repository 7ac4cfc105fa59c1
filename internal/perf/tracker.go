// Package perf records how long labelled operations take and summarizes the
// samples. Recording never blocks the measured operation beyond a mutex and a
// clock read.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is how many recent samples per label feed the percentiles
const DefaultWindow = 1024

// Metrics summarizes one label. Count, Avg, Min and Max cover every sample;
// P50 and P95 cover the most recent window.
type Metrics struct {
	Label string        `json:"label"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Last  time.Duration `json:"last"`
}

type series struct {
	count  int64
	total  time.Duration
	min    time.Duration
	max    time.Duration
	last   time.Duration
	recent []float64 // seconds, circular once full
	next   int
}

// Tracker accumulates per-label timings
type Tracker struct {
	mu     sync.Mutex
	series map[string]*series
	window int
	now    func() time.Time

	histogram *prometheus.HistogramVec
}

// Option configures a Tracker
type Option func(*Tracker)

// WithWindow sets the number of recent samples kept per label
func WithWindow(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.window = n
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithRegisterer also exports every sample to a Prometheus histogram
// termcore_operation_duration_seconds{operation=label}
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		t.histogram = promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termcore_operation_duration_seconds",
				Help:    "Duration of parser, dispatcher and store operations in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		)
	}
}

// NewTracker creates an empty tracker
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		series: make(map[string]*series),
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTiming starts a measurement; calling the returned func records and
// returns the elapsed time. Only the first call records.
func (t *Tracker) StartTiming(label string) func() time.Duration {
	start := t.now()
	var (
		once    sync.Once
		elapsed time.Duration
	)
	return func() time.Duration {
		once.Do(func() {
			elapsed = t.now().Sub(start)
			t.Record(label, elapsed)
		})
		return elapsed
	}
}

// Record adds a sample
func (t *Tracker) Record(label string, d time.Duration) {
	if d < 0 {
		d = 0
	}

	t.mu.Lock()
	s, ok := t.series[label]
	if !ok {
		s = &series{min: d, max: d}
		t.series[label] = s
	}
	s.count++
	s.total += d
	s.last = d
	if d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	if len(s.recent) < t.window {
		s.recent = append(s.recent, d.Seconds())
	} else {
		s.recent[s.next] = d.Seconds()
		s.next = (s.next + 1) % t.window
	}
	t.mu.Unlock()

	if t.histogram != nil {
		t.histogram.WithLabelValues(label).Observe(d.Seconds())
	}
}

// GetMetrics returns the summary for one label
func (t *Tracker) GetMetrics(label string) (Metrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.series[label]
	if !ok {
		return Metrics{Label: label}, false
	}
	return s.summarize(label), true
}

// GetAllMetrics returns every label's summary
func (t *Tracker) GetAllMetrics() map[string]Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Metrics, len(t.series))
	for label, s := range t.series {
		out[label] = s.summarize(label)
	}
	return out
}

// Labels returns the recorded labels in sorted order
func (t *Tracker) Labels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	labels := make([]string, 0, len(t.series))
	for label := range t.series {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Reset drops all samples. Exported histograms are cumulative and stay.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.series = make(map[string]*series)
}

func (s *series) summarize(label string) Metrics {
	m := Metrics{
		Label: label,
		Count: s.count,
		Total: s.total,
		Min:   s.min,
		Max:   s.max,
		Last:  s.last,
	}
	if s.count > 0 {
		m.Avg = s.total / time.Duration(s.count)
	}

	if len(s.recent) > 0 {
		sorted := make([]float64, len(s.recent))
		copy(sorted, s.recent)
		sort.Float64s(sorted)
		m.P50 = seconds(stat.Quantile(0.5, stat.Empirical, sorted, nil))
		m.P95 = seconds(stat.Quantile(0.95, stat.Empirical, sorted, nil))
	}
	return m
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
