// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"time"

	"github.com/gomlx/galileo/types/tensors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by an instrumented Client.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	SampledTotal    *prometheus.CounterVec
	Vertices        prometheus.Gauge
}

// NewMetrics creates the sampling metrics and registers them with reg. If reg is nil they are
// registered with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "galileo_sampling_request_duration_seconds",
				Help:    "Duration of sampling requests in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"op"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galileo_sampling_requests_total",
				Help: "Total sampling requests",
			},
			[]string{"op"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galileo_sampling_errors_total",
				Help: "Total failed sampling requests",
			},
			[]string{"op"},
		),
		SampledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "galileo_sampled_entities_total",
				Help: "Total entities (vertices, neighbors, pairs or feature rows) returned",
			},
			[]string{"op"},
		),
		Vertices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "galileo_graph_vertices",
				Help: "Number of vertices served",
			},
		),
	}
	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.ErrorsTotal, m.SampledTotal, m.Vertices)
	return m
}

// instrumented wraps a Client and records metrics for every call.
type instrumented struct {
	Client
	m *Metrics
}

// Instrument returns a Client that records calls to c in m.
func Instrument(c Client, m *Metrics) Client {
	m.Vertices.Set(float64(c.NumVertices(nil)))
	return &instrumented{Client: c, m: m}
}

// observe records one request, started at start, that returned count entities.
func (ic *instrumented) observe(op string, start time.Time, count int, err error) {
	ic.m.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	ic.m.RequestsTotal.WithLabelValues(op).Inc()
	if err != nil {
		ic.m.ErrorsTotal.WithLabelValues(op).Inc()
		return
	}
	ic.m.SampledTotal.WithLabelValues(op).Add(float64(count))
}

func (ic *instrumented) SampleVertices(types []uint8, count int) ([]int64, error) {
	start := time.Now()
	ids, err := ic.Client.SampleVertices(types, count)
	ic.observe("sample_vertices", start, len(ids), err)
	return ids, err
}

func (ic *instrumented) SampleNeighbors(ids []int64, edgeTypes []uint8, count int, hasWeight bool) ([]int64, []float32, error) {
	start := time.Now()
	neighbors, weights, err := ic.Client.SampleNeighbors(ids, edgeTypes, count, hasWeight)
	ic.observe("sample_neighbors", start, len(neighbors), err)
	return neighbors, weights, err
}

func (ic *instrumented) SampleMultiHop(ids []int64, metapath [][]uint8, fanouts []int, hasWeight bool) (*tensors.Tensor[int64], *tensors.Tensor[float32], error) {
	start := time.Now()
	hops, weights, err := ic.Client.SampleMultiHop(ids, metapath, fanouts, hasWeight)
	var count int
	if hops != nil {
		count = hops.Size()
	}
	ic.observe("sample_multi_hop", start, count, err)
	return hops, weights, err
}

func (ic *instrumented) RandomWalk(ids []int64, metapath [][]uint8, p, q float32) (*tensors.Tensor[int64], error) {
	start := time.Now()
	walks, err := ic.Client.RandomWalk(ids, metapath, p, q)
	var count int
	if walks != nil {
		count = walks.Size()
	}
	ic.observe("random_walk", start, count, err)
	return walks, err
}

func (ic *instrumented) SamplePairsByRandomWalk(ids []int64, metapath [][]uint8, repetition, contextSize int, p, q float32) (*tensors.Tensor[int64], error) {
	start := time.Now()
	pairs, err := ic.Client.SamplePairsByRandomWalk(ids, metapath, repetition, contextSize, p, q)
	var count int
	if pairs != nil {
		count = pairs.Dim(0)
	}
	ic.observe("sample_pairs_by_random_walk", start, count, err)
	return pairs, err
}

func (ic *instrumented) CollectEntity(category Category, types []uint8, count int) (*Entities, error) {
	start := time.Now()
	entities, err := ic.Client.CollectEntity(category, types, count)
	var n int
	if entities != nil {
		n = entities.Len()
	}
	ic.observe("collect_entity", start, n, err)
	return entities, err
}

func (ic *instrumented) GetDenseFeature(ids []int64, names []string, dims []int) ([]*tensors.Tensor[float32], error) {
	start := time.Now()
	features, err := ic.Client.GetDenseFeature(ids, names, dims)
	ic.observe("get_dense_feature", start, len(ids), err)
	return features, err
}

func (ic *instrumented) GetSparseFeature(ids []int64, names []string, dims []int) ([]*tensors.Tensor[int64], error) {
	start := time.Now()
	features, err := ic.Client.GetSparseFeature(ids, names, dims)
	ic.observe("get_sparse_feature", start, len(ids), err)
	return features, err
}
