// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// galileo-convert converts text files of vertices and edges into the partitioned binary format loaded by
// engine.LoadDir (and by the examples with -data_source=dir).
//
// Usage:
//
//	galileo-convert -schema=schema.json -vertex_files='data/vertex_*.txt' -edge_files='data/edge_*.txt' -output=graph/
//
// With -inspect it prints the summary of an already converted directory instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/galileo/engine"
	"github.com/gomlx/galileo/engine/convertor"
	"github.com/gomlx/galileo/ml/data"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagSchema      = flag.String("schema", "", "JSON file with the schema of the graph.")
	flagVertexFiles = flag.String("vertex_files", "", "Comma separated list of vertex files. Glob patterns are accepted.")
	flagEdgeFiles   = flag.String("edge_files", "", "Comma separated list of edge files. Glob patterns are accepted.")
	flagOutput      = flag.String("output", "", "Output directory.")
	flagSlices      = flag.Int("slices", 1, "Number of slices (partitions) of the graph.")
	flagWorkers     = flag.Int("workers", 0, "Number of input files converted in parallel. If 0 the number of cores is used.")
	flagInspect     = flag.String("inspect", "", "If set, prints the summary of the converted graph in this directory and exits.")
	flagLoad        = flag.Bool("load", false, "With -inspect, also loads the graph and reports its size.")
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagInspect != "" {
		inspect(data.ReplaceTildeInDir(*flagInspect))
		return
	}
	if *flagSchema == "" || *flagOutput == "" {
		klog.Errorf("-schema and -output are required. See 'galileo-convert -help'.")
		os.Exit(1)
	}
	schema := must.M1(engine.LoadSchema(data.ReplaceTildeInDir(*flagSchema)))
	vertexFiles := must.M1(expandFiles(*flagVertexFiles))
	edgeFiles := must.M1(expandFiles(*flagEdgeFiles))
	if len(vertexFiles) == 0 {
		klog.Errorf("No vertex files matched %q.", *flagVertexFiles)
		os.Exit(1)
	}

	c := must.M1(convertor.New(schema, *flagSlices))
	c.Workers = *flagWorkers
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	outDir := data.ReplaceTildeInDir(*flagOutput)
	m, err := c.Run(ctx, vertexFiles, edgeFiles, outDir)
	if err != nil {
		klog.Errorf("Conversion failed: %+v", err)
		os.Exit(1)
	}
	printManifest(outDir, m)
}

// expandFiles splits the comma separated list and expands the glob patterns, in order and without repetitions.
func expandFiles(list string) ([]string, error) {
	var files []string
	for _, pattern := range strings.Split(list, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		matches, err := filepath.Glob(data.ReplaceTildeInDir(pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("no files match %q", pattern)
		}
		for _, match := range matches {
			if !slices.Contains(files, match) {
				files = append(files, match)
			}
		}
	}
	return files, nil
}

func inspect(dir string) {
	m := must.M1(engine.ReadManifest(dir))
	printManifest(dir, m)
	if !*flagLoad {
		return
	}
	g := must.M1(engine.LoadDir(dir))
	fmt.Println(titleStyle.Render("Graph"))
	table := newPlainTable(true, lipgloss.Left, lipgloss.Right)
	table.Row("Type", "Count")
	for _, vs := range m.Schema.Vertices {
		table.Row(fmt.Sprintf("vertex type %d", vs.VType), humanize.Comma(int64(g.NumVertices([]uint8{vs.VType}))))
	}
	for _, es := range m.Schema.Edges {
		table.Row(fmt.Sprintf("edge type %d", es.EType), humanize.Comma(int64(g.NumEdges([]uint8{es.EType}))))
	}
	fmt.Println(table.Render())
}

func printManifest(dir string, m *engine.Manifest) {
	fmt.Println(titleStyle.Render("Converted graph"))
	table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	table.Row("directory", dir)
	table.Row("job id", m.JobID)
	table.Row("created", m.Created.Format("2006-01-02 15:04:05"))
	table.Row("slices", humanize.Comma(int64(m.Slices)))
	table.Row("vertices", humanize.Comma(m.NumVertices))
	table.Row("edges", humanize.Comma(m.NumEdges))
	table.Row("invalid records", humanize.Comma(m.NumInvalid))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Schema"))
	table = newPlainTable(true)
	table.Row("Kind", "Type", "Entity", "Weight", "Attributes")
	for _, vs := range m.Schema.Vertices {
		attrs := make([]string, len(vs.Attrs))
		for ii, attr := range vs.Attrs {
			attrs[ii] = fmt.Sprintf("%s:%s[%d]", attr.Name, attr.DType, attr.Width())
		}
		table.Row("vertex", fmt.Sprint(vs.VType), string(vs.Entity), string(vs.Weight), strings.Join(attrs, " "))
	}
	for _, es := range m.Schema.Edges {
		table.Row("edge", fmt.Sprint(es.EType), fmt.Sprintf("%s -> %s", es.Entity1, es.Entity2), string(es.Weight), "")
	}
	fmt.Println(table.Render())
}
