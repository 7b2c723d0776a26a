// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package cora downloads and parses the Cora citation dataset into an engine.Graph.
//
// Cora has 2708 papers, each described by 1433 binary word features and one of 7 classes, and 5429
// citations. Papers are re-indexed 0...2707 in the order of `cora.content`, and each citation becomes one edge
// in each direction.
package cora

import (
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/galileo/engine"
	"github.com/gomlx/galileo/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	URL         = "https://linqs-data.soe.ucsc.edu/public/lbc/cora.tgz"
	TarFile     = "cora.tgz"
	Subdir      = "cora"
	ContentFile = "cora.content"
	CitesFile   = "cora.cites"

	// GraphFile caches the parsed graph in the base directory.
	GraphFile = "cora.graph"

	NumVertices = 2708
	NumFeatures = 1433
	NumClasses  = 7

	// FeatureName of the dense `[NumFeatures]` word features and LabelName of the `[NumClasses]` one-hot labels.
	FeatureName = "feature"
	LabelName   = "label"

	VertexType uint8 = 0
	EdgeType   uint8 = 0

	// TestStart and TestEnd (excluded) delimit the vertices held out for evaluation.
	TestStart = 1708
	TestEnd   = 2707
)

// Classes of the papers, in the order of the one-hot labels.
var Classes = []string{
	"Case_Based",
	"Genetic_Algorithms",
	"Neural_Networks",
	"Probabilistic_Methods",
	"Reinforcement_Learning",
	"Rule_Learning",
	"Theory",
}

// Schema of a Cora graph with numFeatures word features.
func Schema(numFeatures int) *engine.Schema {
	return &engine.Schema{
		Vertices: []engine.VertexSchema{{
			VType:  VertexType,
			Entity: engine.DTInt64,
			Weight: engine.DTFloat,
			Attrs: []engine.Attr{
				{Name: FeatureName, DType: engine.DTArrayFloat, Dim: numFeatures},
				{Name: LabelName, DType: engine.DTArrayFloat, Dim: NumClasses},
			},
		}},
		Edges: []engine.EdgeSchema{{EType: EdgeType, Entity1: engine.DTInt64, Entity2: engine.DTInt64, Weight: engine.DTFloat}},
	}
}

// Download the dataset into baseDir, if not there yet, and returns the directory with the content and
// cites files.
func Download(baseDir string) (string, error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	if err := os.MkdirAll(baseDir, 0777); err != nil {
		return "", errors.Wrapf(err, "creating %q", baseDir)
	}
	if err := data.DownloadAndUntarIfMissing(URL, baseDir, TarFile, Subdir, ""); err != nil {
		return "", err
	}
	return filepath.Join(baseDir, Subdir), nil
}

// Load returns the Cora graph, downloading and parsing it if needed. The parsed graph is cached in
// baseDir, in GraphFile.
func Load(baseDir string) (*engine.Graph, error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	graphPath := filepath.Join(baseDir, GraphFile)
	if data.FileExists(graphPath) {
		g, err := engine.Load(graphPath)
		if err == nil {
			return g, nil
		}
		klog.Warningf("cora: ignoring cached graph: %+v", err)
	}
	dir, err := Download(baseDir)
	if err != nil {
		return nil, err
	}
	g, err := Parse(filepath.Join(dir, ContentFile), filepath.Join(dir, CitesFile))
	if err != nil {
		return nil, err
	}
	if err = g.Save(graphPath); err != nil {
		return nil, err
	}
	return g, nil
}

// readTSV reads a tab separated file without header, with all columns as strings.
func readTSV(filePath string) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "opening %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(false),
		dataframe.WithDelimiter('\t'),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String))
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "parsing %q", filePath)
	}
	return df, nil
}

// Parse builds the graph from the content file (`paper_id, features..., class` per line) and the cites
// file (`cited_id, citing_id` per line). The number of features is taken from the content file.
//
// Citations of unknown papers are dropped.
func Parse(contentPath, citesPath string) (*engine.Graph, error) {
	content, err := readTSV(contentPath)
	if err != nil {
		return nil, err
	}
	numRows, numCols := content.Dims()
	if numCols < 3 {
		return nil, errors.Errorf("cora: %q has %d columns, expected paper id, features and class", contentPath, numCols)
	}
	numFeatures := numCols - 2
	b, err := engine.NewBuilder(Schema(numFeatures))
	if err != nil {
		return nil, err
	}

	paperIDs := content.Col(content.Names()[0]).Records()
	classes := content.Col(content.Names()[numCols-1]).Records()
	index := make(map[string]int64, numRows)
	for row, paper := range paperIDs {
		if _, dup := index[paper]; dup {
			return nil, errors.Errorf("cora: paper %q defined more than once in %q", paper, contentPath)
		}
		id := int64(row)
		index[paper] = id
		class := slices.Index(Classes, classes[row])
		if class < 0 {
			return nil, errors.Errorf("cora: paper %q has unknown class %q", paper, classes[row])
		}
		label := make([]float32, NumClasses)
		label[class] = 1
		feature := make([]float32, numFeatures)
		for ii := range feature {
			value := content.Elem(row, ii+1).Float()
			if math.IsNaN(value) {
				return nil, errors.Errorf("cora: paper %q has invalid feature %d %q in %q",
					paper, ii, content.Elem(row, ii+1).String(), contentPath)
			}
			feature[ii] = float32(value)
		}
		err = b.AddVertex(engine.Vertex{
			Type:   VertexType,
			ID:     id,
			Weight: 1,
			Dense:  map[string][]float32{FeatureName: feature, LabelName: label},
		})
		if err != nil {
			return nil, err
		}
	}

	cites, err := readTSV(citesPath)
	if err != nil {
		return nil, err
	}
	if _, c := cites.Dims(); c != 2 {
		return nil, errors.Errorf("cora: %q has %d columns, expected 2", citesPath, c)
	}
	cited, citing := cites.Col(cites.Names()[0]).Records(), cites.Col(cites.Names()[1]).Records()
	var unknown int
	for ii := range cited {
		src, okSrc := index[citing[ii]]
		dst, okDst := index[cited[ii]]
		if !okSrc || !okDst {
			unknown++
			continue
		}
		if err = b.AddEdge(engine.Edge{Type: EdgeType, Src: src, Dst: dst, Weight: 1}); err != nil {
			return nil, err
		}
		if err = b.AddEdge(engine.Edge{Type: EdgeType, Src: dst, Dst: src, Weight: 1}); err != nil {
			return nil, err
		}
	}
	if unknown > 0 {
		klog.Warningf("cora: dropped %d citations of unknown papers in %q", unknown, citesPath)
	}
	g, err := b.Build()
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("cora: %s papers with %d features, %s edges",
		humanize.Comma(int64(g.NumVertices(nil))), numFeatures, humanize.Comma(int64(g.NumEdges(nil))))
	return g, nil
}

// TestIDs returns the ids of the vertices held out for evaluation.
func TestIDs() []int64 {
	ids := make([]int64, 0, TestEnd-TestStart)
	for id := int64(TestStart); id < TestEnd; id++ {
		ids = append(ids, id)
	}
	return ids
}
