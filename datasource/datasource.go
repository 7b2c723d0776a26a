// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package datasource opens the graph used by the examples: a named dataset, the output of the convertor in a
// directory, or a Neo4j database.
package datasource

import (
	"context"
	"slices"

	"github.com/gomlx/galileo/datasets/cora"
	"github.com/gomlx/galileo/datasource/neo4jsource"
	"github.com/gomlx/galileo/engine"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the supported sources.
const (
	Cora  = "cora"
	Dir   = "dir"
	Neo4j = "neo4j"
)

// Config of the graph source.
type Config struct {
	// Name of the source: Cora, Dir or Neo4j.
	Name string

	// DataDir is where datasets are downloaded to, or where the convertor output is for Dir.
	DataDir string

	// Slices to load for Dir. All slices are loaded if empty.
	Slices []int

	// Neo4j options, used for Neo4j.
	Neo4j neo4jsource.Options

	// Metrics, if not nil, instruments the returned client.
	Metrics *engine.Metrics
}

// Open the graph configured.
func Open(ctx context.Context, cfg Config) (client engine.Client, err error) {
	var g *engine.Graph
	switch cfg.Name {
	case Cora:
		g, err = cora.Load(cfg.DataDir)
	case Dir:
		if cfg.DataDir == "" {
			return nil, errors.New("datasource: data directory missing")
		}
		g, err = engine.LoadDir(cfg.DataDir, cfg.Slices...)
	case Neo4j:
		g, err = neo4jsource.Load(ctx, cfg.Neo4j)
	default:
		return nil, errors.Errorf("datasource: unknown source %q, valid values are %q", cfg.Name, []string{Cora, Dir, Neo4j})
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "datasource: opening %q", cfg.Name)
	}
	klog.Infof("datasource %q: %s", cfg.Name, g)
	client = g
	if cfg.Metrics != nil {
		client = engine.Instrument(client, cfg.Metrics)
	}
	return client, nil
}

// TestVertexIDs returns the vertices held out for evaluation of the named source.
func TestVertexIDs(name string) ([]int64, error) {
	if name == Cora {
		return cora.TestIDs(), nil
	}
	return nil, errors.Errorf("datasource: no test vertices known for %q", name)
}

// IsValid returns whether name is a known source.
func IsValid(name string) bool {
	return slices.Contains([]string{Cora, Dir, Neo4j}, name)
}
