// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds a library of metrics and defines the metrics.Interface used by train.Trainer.
//
// Models compute the value of each metric for a batch (see Accuracy and MRR), and metrics aggregate
// these values: the last batch (NewBaseMetric), the mean over an evaluation (NewMeanMetric), a moving average
// during training (NewExponentialMovingAverageMetric) or a streaming median (NewMedianMetric).
package metrics

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Moving Average Accuracy" and "Batch Accuracy" would both have the same
	// "acc" metric type, and for instance, can be displayed on the same plot, sharing
	// the Y-axis.
	MetricType() string

	// Update the metric with the value of a batch (the mean over the batch) and its size, and returns the
	// current value of the metric.
	Update(batchValue float64, batchSize int) float64

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string

	// Reset metrics internal counters, when starting a new evaluation.
	Reset()
}

const (
	LossMetricType     = "loss"
	AccuracyMetricType = "acc"
	MRRMetricType      = "mrr"
)

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value float64) string

// baseMetric implements a stateless metric.Interface: its value is the one of the last batch.
type baseMetric struct {
	name, shortName, metricType string
	pPrintFn                    PrettyPrintFn // if nil will display default.
}

func (m *baseMetric) Name() string {
	return m.name
}

func (m *baseMetric) ShortName() string {
	return m.shortName
}

func (m *baseMetric) MetricType() string {
	return m.metricType
}

func (m *baseMetric) Update(batchValue float64, _ int) float64 {
	return batchValue
}

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.3f", value)
	}
	return m.pPrintFn(value)
}

func (m *baseMetric) Reset() {}

// NewBaseMetric creates a stateless metric, it will return the metric calculated solely on the last batch.
// pPrintFn can be left as nil, and a default will be used.
func NewBaseMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn) Interface {
	return &baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}
}

// meanMetric implements a metric that keeps the mean of a metric, weighted by the batch sizes.
type meanMetric struct {
	baseMetric
	total, weight float64
}

// NewMeanMetric creates a metric that keeps the mean of the batch values, weighted by the batch sizes.
// pPrintFn can be left as nil, and a default will be used.
func NewMeanMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn) Interface {
	return &meanMetric{baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}}
}

func (m *meanMetric) Update(batchValue float64, batchSize int) float64 {
	weight := float64(max(batchSize, 1))
	m.total += batchValue * weight
	m.weight += weight
	return m.total / m.weight
}

func (m *meanMetric) Reset() {
	m.total, m.weight = 0, 0
}

// movingAverageMetric implements a metric that keeps the mean of a metric.
//
// It behaves just like a meanMetric, but each new batch has weight of newExampleWeight, and
// the stored weight is capped at (1-newExampleWeight).
type movingAverageMetric struct {
	meanMetric
	newExampleWeight float64
}

// NewExponentialMovingAverageMetric creates a metric that takes new batches with the given weight
// (newExampleWeight), and decays the rest to 1-newExampleWeight.
//
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
// pPrintFn can be left as nil, and a default will be used.
//
// This doesn't have a set prior, it will start being a normal average until there are enough terms, and it becomes
// an exponential moving average.
func NewExponentialMovingAverageMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn, newExampleWeight float64) Interface {
	return &movingAverageMetric{
		meanMetric:       meanMetric{baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}},
		newExampleWeight: newExampleWeight,
	}
}

// Update implements metrics.Interface.
func (m *movingAverageMetric) Update(batchValue float64, _ int) float64 {
	m.weight = min(m.weight+1, 1/m.newExampleWeight)
	m.total += (batchValue - m.total) / m.weight
	return m.total
}

func accuracyPPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", 100.0*value)
}

// Info of a known metric type, see KnownMetrics.
type Info struct {
	// Name and ShortName used to build the metric names.
	Name, ShortName string

	// PrettyPrint of the metric values.
	PrettyPrint PrettyPrintFn
}

// KnownMetrics by metric type, as used in the models configuration.
var KnownMetrics = map[string]Info{
	LossMetricType:     {Name: "Loss", ShortName: "loss"},
	AccuracyMetricType: {Name: "Accuracy", ShortName: "acc", PrettyPrint: accuracyPPrint},
	MRRMetricType:      {Name: "MRR", ShortName: "mrr"},
}

// FromName returns the Info of a known metric type, or an error if it's not known.
func FromName(metricType string) (Info, error) {
	info, found := KnownMetrics[metricType]
	if !found {
		return Info{}, errors.Errorf("unknown metric %q, valid values are %q", metricType, slices.Sorted(maps.Keys(KnownMetrics)))
	}
	return info, nil
}

// NewMeanFromName creates a mean metric of a known metric type, for evaluation: the name is prefixed by the prefix
// (usually the dataset name).
func NewMeanFromName(metricType, prefix, shortPrefix string) (Interface, error) {
	info, err := FromName(metricType)
	if err != nil {
		return nil, err
	}
	return NewMeanMetric(joinName(prefix, "Mean "+info.Name), joinName(shortPrefix, info.ShortName), metricType, info.PrettyPrint), nil
}

// NewMovingAverageFromName creates an exponential moving average metric of a known metric type, for training.
func NewMovingAverageFromName(metricType string, newExampleWeight float64) (Interface, error) {
	info, err := FromName(metricType)
	if err != nil {
		return nil, err
	}
	return NewExponentialMovingAverageMetric("Moving Average "+info.Name, "~"+info.ShortName, metricType, info.PrettyPrint, newExampleWeight), nil
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ": " + name
}

// Accuracy returns the fraction of the examples where the argmax of the logits `[batch_size, classes]` matches
// the argmax of the labels (one-hot, same shape). Ties are resolved to the first class.
func Accuracy(logits, labels *tensors.Tensor[float32]) float64 {
	if !slices.Equal(logits.Dims(), labels.Dims()) {
		exceptions.Panicf("Accuracy: logits (%s) and labels (%s) must have same shape", logits.ShapeString(), labels.ShapeString())
	}
	predicted, want := tensors.ArgMax(logits), tensors.ArgMax(labels)
	if len(predicted) == 0 {
		return 0
	}
	var hits int
	for ii, p := range predicted {
		if p == want[ii] {
			hits++
		}
	}
	return float64(hits) / float64(len(predicted))
}

// MRR returns the mean reciprocal rank of the positive logits `[batch_size]` among their negative logits
// `[batch_size, num_negatives]`: the rank of a positive is 1 plus the number of its negatives with a strictly
// larger logit.
func MRR(positive, negative *tensors.Tensor[float32]) float64 {
	batchSize := positive.Size()
	if batchSize == 0 {
		return 0
	}
	if negative.Rank() != 2 || negative.Dim(0) != batchSize {
		exceptions.Panicf("MRR: negative logits must be shaped [%d, num_negatives], got %s", batchSize, negative.ShapeString())
	}
	var total float64
	for ii, pos := range positive.Data() {
		rank := 1
		for _, neg := range negative.Row(ii) {
			if neg > pos || math.IsNaN(float64(neg)) {
				rank++
			}
		}
		total += 1 / float64(rank)
	}
	return total / float64(batchSize)
}
