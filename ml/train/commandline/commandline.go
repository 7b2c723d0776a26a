// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: a progress bar with
// the training metrics, evaluation reports and context hyperparameters settings from flags.
package commandline

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/train"
	"github.com/pkg/errors"
)

// ReportEval reports on the command line the results of evaluating the datasets using trainer.Eval.
func ReportEval(trainer *train.Trainer, datasets ...train.Dataset) error {
	return FReportEval(os.Stdout, trainer, datasets...)
}

// FReportEval is like ReportEval, but writes the report to w, as a table with one row per metric.
func FReportEval(w io.Writer, trainer *train.Trainer, datasets ...train.Dataset) error {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers("Metric", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 1 && row != lgtable.HeaderRow {
				return rightAlignedStyle
			}
			return normalStyle
		})
	err := exceptions.TryCatch[error](func() {
		for _, ds := range datasets {
			evalMetrics, values, err := trainer.EvalWithNames(ds)
			if err != nil {
				panic(errors.WithMessagef(err, "evaluating %q", ds.Name()))
			}
			for metricIdx, metric := range evalMetrics {
				table.Row(fmt.Sprintf("%s (%s)", metric.Name(), metric.ShortName()), metric.PrettyPrint(values[metricIdx]))
			}
		}
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, table.String())
	return err
}
