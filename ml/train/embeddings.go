// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gomlx/galileo/types/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EmbeddingsWriter writes predicted embeddings to a CSV file, one line per id: `id,e1,e2,...`,
// with 6 decimals. Use its Save method as the SavePredictFn of Trainer.Predict.
type EmbeddingsWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	buf    []byte
	count  int
}

// SaveEmbeddingsCSV creates the file `embedding_<taskID>.csv` in dir (created if needed). If
// taskID is empty a random one is generated.
func SaveEmbeddingsCSV(dir, taskID string) (*EmbeddingsWriter, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "SaveEmbeddingsCSV: creating directory %q", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("embedding_%s.csv", taskID))
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "SaveEmbeddingsCSV: creating %q", path)
	}
	return &EmbeddingsWriter{path: path, file: f, writer: bufio.NewWriter(f)}, nil
}

// Path of the file being written.
func (w *EmbeddingsWriter) Path() string { return w.path }

// Count returns the number of embeddings written so far.
func (w *EmbeddingsWriter) Count() int { return w.count }

// Save implements SavePredictFn.
func (w *EmbeddingsWriter) Save(ids []int64, outputs *tensors.Tensor[float32]) error {
	if w.file == nil {
		return errors.Errorf("EmbeddingsWriter(%q) already closed", w.path)
	}
	if outputs.Rank() != 2 || outputs.Dim(0) != len(ids) {
		return errors.Errorf("EmbeddingsWriter(%q): got embeddings shaped %s for %d ids",
			w.path, outputs.ShapeString(), len(ids))
	}
	for row, id := range ids {
		w.buf = strconv.AppendInt(w.buf[:0], id, 10)
		for _, v := range outputs.Row(row) {
			w.buf = append(w.buf, ',')
			w.buf = strconv.AppendFloat(w.buf, float64(v), 'f', 6, 32)
		}
		w.buf = append(w.buf, '\n')
		if _, err := w.writer.Write(w.buf); err != nil {
			return errors.Wrapf(err, "EmbeddingsWriter(%q)", w.path)
		}
	}
	w.count += len(ids)
	return nil
}

// Close flushes and closes the file. It's safe to call it more than once.
func (w *EmbeddingsWriter) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := w.writer.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "EmbeddingsWriter(%q)", w.path)
	}
	klog.V(1).Infof("%d embeddings written to %q", w.count, w.path)
	return errors.Wrapf(f.Close(), "EmbeddingsWriter(%q)", w.path)
}
