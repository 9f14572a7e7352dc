// Package effort measures whether a creative work session exhibits
// human-effort characteristics, and commits to those measurements without
// exposing them.
//
// Only aggregate, content-free statistics ever leave a Session: inter-event
// interval entropy, a temporal-coherence score, and coarse timing stats.
// Raw event timestamps stay inside the process.
package effort

import (
	"math"
	"time"
)

// entropyBinWidth is the fixed histogram bin width for inter-event
// intervals.
const entropyBinWidth = 100 * time.Millisecond

// Thresholds are the configurable human-effort floors a session must clear.
type Thresholds struct {
	MinDuration          time.Duration
	MinEntropy           float64
	MinTemporalCoherence float64
	MaxInputRate         float64 // events per second
	MinEventInterval     time.Duration
}

// DefaultThresholds returns the stock human-effort floors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDuration:          5 * time.Minute,
		MinEntropy:           0.5,
		MinTemporalCoherence: 0.3,
		MaxInputRate:         20,
		MinEventInterval:     50 * time.Millisecond,
	}
}

// Metrics is an immutable statistical snapshot of a session. Intervals are
// whole milliseconds; derived statistics (variance, average) keep their
// fractional parts until digest rounding.
type Metrics struct {
	SessionStart      time.Time         `json:"session_start"`
	SessionEnd        time.Time         `json:"session_end"`
	DurationMs        int64             `json:"duration_ms"`
	Entropy           float64           `json:"entropy"`
	TemporalCoherence float64           `json:"temporal_coherence"`
	InputEventCount   int               `json:"input_event_count"`
	TimingVarianceMs  float64           `json:"timing_variance_ms"`
	AverageIntervalMs float64           `json:"average_interval_ms"`
	MinIntervalMs     int64             `json:"min_interval_ms"`
	MaxIntervalMs     int64             `json:"max_interval_ms"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ThresholdReport holds the five individual threshold verdicts.
type ThresholdReport struct {
	DurationMet  bool `json:"duration_met"`
	EntropyMet   bool `json:"entropy_met"`
	CoherenceMet bool `json:"coherence_met"`
	RateMet      bool `json:"rate_met"`
	IntervalMet  bool `json:"interval_met"`
}

// All reports whether every threshold held.
func (r ThresholdReport) All() bool {
	return r.DurationMet && r.EntropyMet && r.CoherenceMet && r.RateMet && r.IntervalMet
}

// Evaluate checks the metrics against the thresholds.
func Evaluate(m Metrics, th Thresholds) ThresholdReport {
	durationSec := float64(m.DurationMs) / 1000
	rateMet := m.InputEventCount == 0
	if durationSec > 0 {
		rateMet = float64(m.InputEventCount)/durationSec <= th.MaxInputRate
	}
	return ThresholdReport{
		DurationMet:  m.DurationMs >= th.MinDuration.Milliseconds(),
		EntropyMet:   m.Entropy >= th.MinEntropy,
		CoherenceMet: m.TemporalCoherence >= th.MinTemporalCoherence,
		RateMet:      rateMet,
		IntervalMet:  m.MinIntervalMs >= th.MinEventInterval.Milliseconds(),
	}
}

// Session accumulates timestamped input events for one work session. A
// session stays open for its whole life: metrics and digests are pure
// snapshots of whatever has accumulated, never a one-shot consumption.
//
// A session is owned exclusively by its creator and must not be shared
// across goroutines.
type Session struct {
	start    time.Time
	events   []time.Time
	metadata map[string]string
	now      func() time.Time
}

// NewSession opens a session starting now.
func NewSession() *Session {
	s := &Session{now: time.Now}
	s.start = s.now()
	return s
}

// NewSessionAt opens a session with an explicit start time, for replayed or
// test sessions.
func NewSessionAt(start time.Time) *Session {
	return &Session{start: start, now: time.Now}
}

// RecordInput records one input event at the current time.
func (s *Session) RecordInput() {
	s.RecordInputAt(s.now())
}

// RecordInputAt records one input event with a caller-supplied timestamp.
func (s *Session) RecordInputAt(ts time.Time) {
	s.events = append(s.events, ts)
}

// SetMetadata attaches a free-form label carried on every metrics snapshot.
func (s *Session) SetMetadata(key, value string) {
	if s.metadata == nil {
		s.metadata = make(map[string]string)
	}
	s.metadata[key] = value
}

// EventCount returns the number of recorded input events.
func (s *Session) EventCount() int {
	return len(s.events)
}

// Metrics computes a statistical snapshot of the session so far.
func (s *Session) Metrics() Metrics {
	end := s.now()
	m := Metrics{
		SessionStart:    s.start,
		SessionEnd:      end,
		DurationMs:      end.Sub(s.start).Milliseconds(),
		InputEventCount: len(s.events),
	}
	if len(s.metadata) > 0 {
		m.Metadata = make(map[string]string, len(s.metadata))
		for k, v := range s.metadata {
			m.Metadata[k] = v
		}
	}

	intervals := s.intervalsMs()
	if len(intervals) == 0 {
		return m
	}

	m.Entropy = intervalEntropy(intervals)
	m.TemporalCoherence = temporalCoherence(intervals)

	m.MinIntervalMs = intervals[0]
	m.MaxIntervalMs = intervals[0]
	var sum float64
	for _, iv := range intervals {
		if iv < m.MinIntervalMs {
			m.MinIntervalMs = iv
		}
		if iv > m.MaxIntervalMs {
			m.MaxIntervalMs = iv
		}
		sum += float64(iv)
	}
	mean := sum / float64(len(intervals))
	m.AverageIntervalMs = mean

	var variance float64
	for _, iv := range intervals {
		d := float64(iv) - mean
		variance += d * d
	}
	m.TimingVarianceMs = variance / float64(len(intervals))
	return m
}

// intervalsMs returns consecutive gaps between input events in whole
// milliseconds.
func (s *Session) intervalsMs() []int64 {
	if len(s.events) < 2 {
		return nil
	}
	out := make([]int64, 0, len(s.events)-1)
	for i := 1; i < len(s.events); i++ {
		out = append(out, s.events[i].Sub(s.events[i-1]).Milliseconds())
	}
	return out
}

// intervalEntropy computes the Shannon entropy of the interval distribution
// over fixed 100ms bins, normalized by log2 of the occupied bin count. A
// single occupied bin (perfectly uniform timing) scores zero.
func intervalEntropy(intervals []int64) float64 {
	if len(intervals) < 1 {
		return 0
	}
	bins := make(map[int64]int)
	for _, iv := range intervals {
		bins[iv/entropyBinWidth.Milliseconds()]++
	}
	if len(bins) <= 1 {
		return 0
	}

	var h float64
	total := float64(len(intervals))
	for _, count := range bins {
		p := float64(count) / total
		h -= p * math.Log2(p)
	}
	return h / math.Log2(float64(len(bins)))
}

// temporalCoherence scores timing variability against the human-typical
// band. The coefficient of variation (stddev/mean) of the intervals maps
// piecewise: full marks inside [0.3, 0.7], a linear ramp below (too
// regular, machine-like) and above (too erratic).
func temporalCoherence(intervals []int64) float64 {
	if len(intervals) < 2 {
		return 0
	}

	var sum float64
	for _, iv := range intervals {
		sum += float64(iv)
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return 0
	}

	var variance float64
	for _, iv := range intervals {
		d := float64(iv) - mean
		variance += d * d
	}
	cv := math.Sqrt(variance/float64(len(intervals))) / mean

	switch {
	case cv >= 0.3 && cv <= 0.7:
		return 1.0
	case cv < 0.3:
		return cv / 0.3
	default:
		return math.Max(0, 1-(cv-0.7)/0.3)
	}
}
