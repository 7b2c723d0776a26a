// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/train"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/gomlx/galileo/types/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParallelDataset is a wrapper around a train.Dataset that parallelizes calls to Yield.
// See details in CustomParallel.
type ParallelDataset struct {
	Dataset train.Dataset

	name, shortName string

	// parallelism is the number of goroutines started generating batches.
	parallelism int

	// extraBufferSize is the size of the buffer of pre-generated batches.
	extraBufferSize int

	impl *parallelDatasetImpl

	// keepAlive is used only to keep ParallelDataset alive in the middle of long calls.
	keepAlive int64
}

var _ train.Dataset = (*ParallelDataset)(nil)

// parallelDatasetImpl separates the implementation of ParallelDataset. It doesn't point back to the
// ParallelDataset, so garbage collecting it also stops the goroutines.
type parallelDatasetImpl struct {
	config ParallelDataset

	err   error
	muErr sync.Mutex

	buffer                                chan *tensors.Batch
	epochFinished, stopEpoch, stopDataset chan struct{}
	stopDatasetOnce                       sync.Once
	done                                  *xsync.Latch
}

// Parallel parallelizes yield calls of any thread-safe train.Dataset.
//
// It uses CustomParallel and automatically starts it with the default parameters.
// To avoid leaking goroutines, call ParallelDataset.Done when exiting.
//
// The order of the yields is not preserved.
//
// Example:
//
//	ds := data.Parallel(data.Map(data.Range(0, 2708, 1, 32), transform))
//	defer ds.Done()
func Parallel(ds train.Dataset) *ParallelDataset {
	pds := CustomParallel(ds)
	return pds.Buffer(pds.parallelism).Start()
}

// CustomParallel builds a ParallelDataset that can be used to parallelize any train.Dataset, as long
// as the underlying dataset ds is thread-safe.
//
// ParallelDataset can be further configured (see Parallelism and Buffer), and then one has to call
// Start before actually using the Dataset.
func CustomParallel(ds train.Dataset) *ParallelDataset {
	pd := &ParallelDataset{
		name:      ds.Name(),
		shortName: train.ShortName(ds),
		Dataset:   ds,
	}
	pd.Parallelism(0)
	return pd
}

// Parallelism is the number of goroutines to start, each calling `ds.Yield()` in parallel.
// If set to 0 (the default), it will use the number of cores in the system plus 1.
//
// This must be called before a call to Start.
// It returns the updated ParallelDataset, so calls can be cascaded.
func (pd *ParallelDataset) Parallelism(n int) *ParallelDataset {
	if pd.impl != nil {
		exceptions.Panicf("ParallelDataset(%q): invalid configuration change after Start has been called", pd.name)
	}
	if n <= 0 {
		n = runtime.NumCPU() + 1
	}
	pd.parallelism = n
	return pd
}

// WithName sets the name of the parallel dataset, and optionally its short name.
// It returns the updated ParallelDataset, so calls can be cascaded.
func (pd *ParallelDataset) WithName(name string, shortName ...string) *ParallelDataset {
	pd.name = name
	if len(shortName) > 0 {
		pd.shortName = shortName[0]
	}
	return pd
}

// Buffer reserved in the channel that collects the parallel yields.
//
// This must be called before a call to Start.
// It returns the updated ParallelDataset, so calls can be cascaded.
func (pd *ParallelDataset) Buffer(n int) *ParallelDataset {
	if pd.impl != nil {
		exceptions.Panicf("ParallelDataset(%q): invalid configuration change after Start has been called", pd.name)
	}
	pd.extraBufferSize = n
	return pd
}

// Start indicates that the dataset is configured, and starts the goroutines generating batches.
// It returns the updated ParallelDataset, so calls can be cascaded.
func (pd *ParallelDataset) Start() *ParallelDataset {
	if pd.impl != nil {
		exceptions.Panicf("ParallelDataset(%q).Start called more than once", pd.name)
	}
	impl := &parallelDatasetImpl{
		buffer:      make(chan *tensors.Batch, pd.extraBufferSize),
		stopDataset: make(chan struct{}),
		config:      *pd,
		done:        xsync.NewLatch(),
	}
	pd.impl = impl
	// If the ParallelDataset is garbage collected, stop all parallel goroutines.
	runtime.SetFinalizer(pd, func(pd *ParallelDataset) {
		if pd.impl != nil {
			pd.impl.stop()
			pd.impl = nil
		}
	})
	impl.startGoRoutines()
	return pd
}

// stop the dataset, it can be called multiple times.
func (impl *parallelDatasetImpl) stop() {
	impl.stopDatasetOnce.Do(func() { close(impl.stopDataset) })
}

func (impl *parallelDatasetImpl) startGoRoutines() {
	impl.epochFinished = make(chan struct{})
	impl.stopEpoch = make(chan struct{})
	stopEpoch := impl.stopEpoch
	var wg sync.WaitGroup
	for range impl.config.parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopEpoch:
					return
				case <-impl.stopDataset:
					return
				default:
				}
				batch, err := impl.config.Dataset.Yield()
				if err == io.EOF {
					return
				}
				if err != nil {
					klog.Errorf("ParallelDataset(%q): %+v", impl.config.name, err)
					impl.muErr.Lock()
					if impl.err == nil {
						impl.err = err
					}
					impl.muErr.Unlock()
					impl.stop()
					return
				}
				select {
				case <-stopEpoch:
					return
				case <-impl.stopDataset:
					return
				case impl.buffer <- batch:
				}
			}
		}()
	}

	// Controller: signals the end of the epoch once all goroutines are done.
	epochFinished := impl.epochFinished
	go func() {
		wg.Wait()
		select {
		case <-impl.stopDataset:
			impl.done.Trigger()
			return
		default:
		}
		close(epochFinished)
	}()
}

// Name implements train.Dataset.
func (pd *ParallelDataset) Name() string { return pd.name }

// ShortName implements train.HasShortName.
func (pd *ParallelDataset) ShortName() string { return pd.shortName }

// Done stops the parallel dataset and waits for the goroutines to finish.
func (pd *ParallelDataset) Done() {
	if pd.impl == nil {
		return
	}
	impl := pd.impl
	pd.impl = nil
	impl.stop()
	// The controller either closes epochFinished or triggers done, depending on whether it saw the stop.
	select {
	case <-impl.epochFinished:
	case <-impl.done.WaitChan():
	}
}

// Reset implements train.Dataset.
func (pd *ParallelDataset) Reset() {
	impl := pd.impl
	if impl == nil {
		klog.Warningf("ParallelDataset(%q).Reset was called before Start or after Done", pd.name)
		return
	}

	// Stop the generation of the current epoch, and drain whatever is still in the buffer.
	close(impl.stopEpoch)
drain:
	for {
		select {
		case <-impl.stopDataset:
			return
		case <-impl.epochFinished:
			break drain
		case <-impl.buffer:
		}
	}
	// Goroutines may have pushed to the buffer before noticing stopEpoch.
	for len(impl.buffer) > 0 {
		<-impl.buffer
	}

	impl.config.Dataset.Reset()
	impl.startGoRoutines()

	// Prevents `pd` from being garbage collected in the middle of the Reset. Leave this at the end.
	pd.keepAlive++
}

// Yield implements train.Dataset.
func (pd *ParallelDataset) Yield() (*tensors.Batch, error) {
	impl := pd.impl
	if impl == nil {
		return nil, errors.Errorf("ParallelDataset(%q).Yield was called before Start or after Done", pd.name)
	}
	var batch *tensors.Batch
	select {
	case <-impl.stopDataset:
		impl.muErr.Lock()
		err := impl.err
		impl.muErr.Unlock()
		if err == nil {
			err = errors.Errorf("ParallelDataset(%q) was stopped", pd.name)
		}
		return nil, err
	case batch = <-impl.buffer:
	case <-impl.epochFinished:
		// No more batches being produced (until Reset), but the buffer may still have some.
		select {
		case batch = <-impl.buffer:
		default:
			return nil, io.EOF
		}
	}

	// Prevents `pd` from being garbage collected in the middle of the Yield. Leave this at the end.
	pd.keepAlive++
	return batch, nil
}
