// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// galileo-checkpoints reports the contents of a checkpoint directory written during training: global step,
// hyperparameters and variables.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagScope = flag.String("scope", "/", "The scope of the variables considered by the reports. "+
		"Use for instance \"/encoder\" to exclude the optimizer variables.")
	flagSummary = flag.Bool("summary", true, "Display a summary of the number and sizes of the variables under --scope, and the global step.")
	flagParams  = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars    = flag.Bool("vars", false, "Lists the variables under --scope.")
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one checkpoint directory to read from. See 'galileo-checkpoints -help'.")
		os.Exit(1)
	}
	report(must.M1(load(args[0], *flagScope)))
}

func report(r *checkpointReport) {
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
		table.Row("checkpoint", r.Dir)
		table.Row("scope", r.Scope)
		table.Row("global_step", humanize.Comma(r.GlobalStep))
		var totalSize int
		for _, v := range r.Variables {
			totalSize += v.Size
		}
		table.Row("# variables", humanize.Comma(int64(len(r.Variables))))
		table.Row("# parameters", humanize.Comma(int64(totalSize)))
		table.Row("# bytes", humanize.Bytes(uint64(4*totalSize)))
		fmt.Println(table.Render())
	}

	if *flagParams {
		fmt.Println(titleStyle.Render("Hyperparameters"))
		table := newPlainTable(true)
		table.Row("Scope", "Name", "Type", "Value")
		for _, p := range r.Params {
			table.Row(p.Scope, p.Name, fmt.Sprintf("%T", p.Value), fmt.Sprintf("%v", p.Value))
		}
		fmt.Println(table.Render())
	}

	if *flagVars {
		fmt.Println(titleStyle.Render("Variables"))
		table := newPlainTable(true, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
		table.Row("Scope", "Name", "Shape", "Size", "Bytes")
		for _, v := range r.Variables {
			table.Row(v.Scope, v.Name, fmt.Sprint(v.Dims), humanize.Comma(int64(v.Size)), humanize.Bytes(uint64(4*v.Size)))
		}
		fmt.Println(table.Render())
	}
}
