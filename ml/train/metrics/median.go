// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package metrics

// StreamingMedianMetric implements a metric that keeps an approximate median of a metric from a streaming
// input.
type StreamingMedianMetric struct {
	baseMetric

	markers  [5]float64
	counters [5]int64
}

var _ Interface = (*StreamingMedianMetric)(nil)

// NewMedianMetric creates a streaming median metric.
//
// One value is consumed at a time. If you are processing batches (and not a batch of size 1), this will
// return a median of the batch means. This may be a reasonable approximation, but something to be mindful.
//
// It uses the P^2 algorithm, described in the paper https://dl.acm.org/doi/abs/10.1145/4372.4378,
// and in a more friendly way in the post in: https://www.baeldung.com/cs/streaming-median
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMedianMetric(name, shortName, metricType string, prettyPrintFn PrettyPrintFn) *StreamingMedianMetric {
	return &StreamingMedianMetric{
		baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: prettyPrintFn},
	}
}

// Count returns the number of values seen since the last Reset.
func (m *StreamingMedianMetric) Count() int64 {
	return m.counters[4]
}

// Median returns the current estimate of the median, or 0 if no values were seen.
func (m *StreamingMedianMetric) Median() float64 {
	return m.markers[2]
}

// Update implements Interface. The batch size is ignored.
func (m *StreamingMedianMetric) Update(x float64, _ int) float64 {
	if m.counters[4] == 0 {
		// This is the very first element.
		for i := range 5 {
			m.markers[i] = x
			if i > 0 {
				m.counters[i] = 1
			}
		}
		return m.markers[2]
	}

	// Update the first and last markers and counters.
	m.markers[0] = min(x, m.markers[0])
	m.markers[4] = max(x, m.markers[4])
	m.counters[4]++ // m.counters[0] is always 0.
	for i := 1; i < 4; i++ {
		if x <= m.markers[i] {
			m.counters[i]++
		}
	}

	// Find inner ideal counters.
	var idealCounters [5]float64
	currentN := float64(m.counters[4])
	p2quantiles := [5]float64{0, 0.25, 0.5, 0.75, 1}
	for i := 1; i < 4; i++ {
		idealCounters[i] = p2quantiles[i] * (currentN - 1)
	}

	// Adjust counts and markers where needed.
	for i := 1; i < 4; i++ {
		d := idealCounters[i] - float64(m.counters[i])
		if d >= 1 {
			d = 1
			if m.counters[i] >= m.counters[i+1] || m.markers[i] >= m.markers[i+1] {
				continue
			}
		} else if d <= -1 {
			d = -1
			if m.counters[i] <= m.counters[i-1] || m.markers[i] <= m.markers[i-1] {
				continue
			}
		} else {
			continue
		}
		m.markers[i] = m.adjustedMarker(i, d)
		m.counters[i] += int64(d)
	}
	return m.markers[2]
}

// adjustedMarker moves marker i by d (+1 or -1) positions, with a parabolic interpolation, or a linear
// one if the parabolic is not possible.
func (m *StreamingMedianMetric) adjustedMarker(i int, d float64) float64 {
	nCurrent := float64(m.counters[i])
	nPrevious := float64(m.counters[i-1])
	nNext := float64(m.counters[i+1])
	qPrevious, qCurrent, qNext := m.markers[i-1], m.markers[i], m.markers[i+1]

	deltaNPrevious := nCurrent - nPrevious
	deltaNNext := nNext - nCurrent
	deltaNOuter := nNext - nPrevious
	switch {
	case deltaNPrevious > 0 && deltaNNext > 0 && deltaNOuter > 0:
		term1 := (deltaNPrevious + d) * (qNext - qCurrent) / deltaNNext
		term2 := (deltaNNext - d) * (qCurrent - qPrevious) / deltaNPrevious
		return qCurrent + d/deltaNOuter*(term1+term2)
	case deltaNOuter > 0:
		return qPrevious + (deltaNPrevious+d)*(qNext-qPrevious)/deltaNOuter
	default:
		// Clumped markers.
		return qCurrent
	}
}

// Reset implements Interface.
func (m *StreamingMedianMetric) Reset() {
	m.markers = [5]float64{}
	m.counters = [5]int64{}
}
