// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package train

import "github.com/gomlx/galileo/types/tensors"

// Dataset for a train.Trainer provides the data, one batch at a time. A batch is a collection of named
// tensors (see tensors.Batch), typically the output of a graph transform: vertex ids, sampled
// neighborhoods, features and labels.
//
// Datasets used with data.Parallel must be safe for concurrent calls to Yield.
type Dataset interface {
	// Name identifies the dataset. Used for debugging, pretty-printing and metric names.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached,
	// for instance when running another evaluation on a test dataset.
	Reset()

	// Yield one batch or an error. If the error is io.EOF the training/evaluation terminates
	// normally, as it indicates the end of the data (of the epoch) for finite datasets.
	//
	// Any other errors should interrupt the training/evaluation and be returned to the user.
	Yield() (batch *tensors.Batch, err error)
}

// HasShortName allows a dataset to specify a short name (used when displaying a short version of metric names).
// It defaults to the first 3 letters of the dataset name.
//
// It's optional.
type HasShortName interface {
	ShortName() string
}

// ShortName returns the short name of ds: ds.ShortName() if it implements HasShortName, or the
// first 3 letters of its name.
func ShortName(ds Dataset) string {
	if sn, ok := ds.(HasShortName); ok {
		return sn.ShortName()
	}
	name := ds.Name()
	if len(name) > 3 {
		return name[:3]
	}
	return name
}
