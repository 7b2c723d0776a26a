// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package neo4jsource builds an engine.Graph from a Neo4j (or any Bolt compatible) graph database.
//
// Vertices and edges are read with Cypher queries. The vertex query must return the columns "id",
// "vtype" and "weight", plus one column per attribute of the vertex type in the schema, named as the
// attribute. The edge query must return "etype", "src", "dst" and "weight". Missing weights default to 1,
// missing types to 0.
package neo4jsource

import (
	"context"

	"github.com/gomlx/galileo/engine"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Default queries, for vertices with label Vertex and relationships of type EDGE.
const (
	DefaultVertexQuery = "MATCH (v:Vertex) RETURN v.id AS id, v.vtype AS vtype, v.weight AS weight, v.feature AS feature, v.label AS label"
	DefaultEdgeQuery   = "MATCH (a:Vertex)-[e:EDGE]->(b:Vertex) RETURN e.etype AS etype, a.id AS src, b.id AS dst, e.weight AS weight"
)

// Options to connect and read the graph.
type Options struct {
	URI                string
	Username, Password string
	Database           string

	// Schema of the graph read.
	Schema *engine.Schema

	// VertexQuery and EdgeQuery default to DefaultVertexQuery and DefaultEdgeQuery.
	VertexQuery, EdgeQuery string
}

// Load connects to the database and reads the whole graph.
func Load(ctx context.Context, opts Options) (*engine.Graph, error) {
	if opts.URI == "" {
		return nil, errors.New("neo4jsource: missing URI")
	}
	if opts.Schema == nil {
		return nil, errors.New("neo4jsource: missing schema")
	}
	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(opts.URI, auth)
	if err != nil {
		return nil, errors.Wrapf(err, "neo4jsource: creating driver for %q", opts.URI)
	}
	defer func() { _ = driver.Close(ctx) }()
	if err = driver.VerifyConnectivity(ctx); err != nil {
		return nil, errors.Wrapf(err, "neo4jsource: connecting to %q", opts.URI)
	}

	b, err := engine.NewBuilder(opts.Schema)
	if err != nil {
		return nil, err
	}
	vertexQuery, edgeQuery := opts.VertexQuery, opts.EdgeQuery
	if vertexQuery == "" {
		vertexQuery = DefaultVertexQuery
	}
	if edgeQuery == "" {
		edgeQuery = DefaultEdgeQuery
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: opts.Database, AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()

	numVertices, err := run(ctx, session, vertexQuery, func(record map[string]any) error {
		v, err := VertexFromRecord(opts.Schema, record)
		if err != nil {
			return err
		}
		return b.AddVertex(v)
	})
	if err != nil {
		return nil, err
	}
	numEdges, err := run(ctx, session, edgeQuery, func(record map[string]any) error {
		e, err := EdgeFromRecord(record)
		if err != nil {
			return err
		}
		return b.AddEdge(e)
	})
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("neo4jsource: read %d vertices and %d edges from %q", numVertices, numEdges, opts.URI)
	return b.Build()
}

// run streams the records of the query to fn.
func run(ctx context.Context, session neo4j.SessionWithContext, query string, fn func(record map[string]any) error) (count int, err error) {
	res, err := session.Run(ctx, query, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "neo4jsource: running %q", query)
	}
	for res.Next(ctx) {
		if err = fn(res.Record().AsMap()); err != nil {
			return count, errors.WithMessagef(err, "neo4jsource: record #%d of %q", count, query)
		}
		count++
	}
	if err = res.Err(); err != nil {
		return count, errors.Wrapf(err, "neo4jsource: reading results of %q", query)
	}
	return count, nil
}

// VertexFromRecord converts a record of the vertex query.
func VertexFromRecord(schema *engine.Schema, record map[string]any) (v engine.Vertex, err error) {
	if v.ID, err = toInt64(record["id"]); err != nil {
		return v, errors.WithMessage(err, "vertex id")
	}
	vtype, err := toInt64Or(record["vtype"], 0)
	if err != nil {
		return v, errors.WithMessage(err, "vertex type")
	}
	v.Type = uint8(vtype)
	vs, found := schema.Vertex(v.Type)
	if !found {
		return v, errors.Errorf("vertex %d has unknown type %d", v.ID, v.Type)
	}
	if v.Weight, err = toFloat32Or(record["weight"], 1); err != nil {
		return v, errors.WithMessagef(err, "weight of vertex %d", v.ID)
	}
	for _, attr := range vs.Attrs {
		value, ok := record[attr.Name]
		if !ok || value == nil {
			continue
		}
		if attr.IsDense() {
			values, err := toFloat32s(value)
			if err != nil {
				return v, errors.WithMessagef(err, "attribute %q of vertex %d", attr.Name, v.ID)
			}
			if v.Dense == nil {
				v.Dense = make(map[string][]float32)
			}
			v.Dense[attr.Name] = values
		} else {
			values, err := toInt64s(value)
			if err != nil {
				return v, errors.WithMessagef(err, "attribute %q of vertex %d", attr.Name, v.ID)
			}
			if v.Sparse == nil {
				v.Sparse = make(map[string][]int64)
			}
			v.Sparse[attr.Name] = values
		}
	}
	return v, nil
}

// EdgeFromRecord converts a record of the edge query.
func EdgeFromRecord(record map[string]any) (e engine.Edge, err error) {
	if e.Src, err = toInt64(record["src"]); err != nil {
		return e, errors.WithMessage(err, "edge src")
	}
	if e.Dst, err = toInt64(record["dst"]); err != nil {
		return e, errors.WithMessage(err, "edge dst")
	}
	etype, err := toInt64Or(record["etype"], 0)
	if err != nil {
		return e, errors.WithMessage(err, "edge type")
	}
	e.Type = uint8(etype)
	if e.Weight, err = toFloat32Or(record["weight"], 1); err != nil {
		return e, errors.WithMessagef(err, "weight of edge (%d->%d)", e.Src, e.Dst)
	}
	return e, nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, errors.Errorf("value %g is not an integer", v)
		}
		return int64(v), nil
	case nil:
		return 0, errors.New("missing value")
	}
	return 0, errors.Errorf("value %v of type %T is not an integer", value, value)
}

func toInt64Or(value any, defaultValue int64) (int64, error) {
	if value == nil {
		return defaultValue, nil
	}
	return toInt64(value)
}

func toFloat32Or(value any, defaultValue float32) (float32, error) {
	switch v := value.(type) {
	case nil:
		return defaultValue, nil
	case float64:
		return float32(v), nil
	case int64:
		return float32(v), nil
	case int:
		return float32(v), nil
	}
	return 0, errors.Errorf("value %v of type %T is not a number", value, value)
}

// toFloat32s accepts a list of numbers, or a single number.
func toFloat32s(value any) ([]float32, error) {
	list, ok := value.([]any)
	if !ok {
		f, err := toFloat32Or(value, 0)
		return []float32{f}, err
	}
	values := make([]float32, len(list))
	for ii, item := range list {
		f, err := toFloat32Or(item, 0)
		if err != nil {
			return nil, errors.WithMessagef(err, "element %d", ii)
		}
		values[ii] = f
	}
	return values, nil
}

// toInt64s accepts a list of integers, or a single integer.
func toInt64s(value any) ([]int64, error) {
	list, ok := value.([]any)
	if !ok {
		i, err := toInt64(value)
		return []int64{i}, err
	}
	values := make([]int64, len(list))
	for ii, item := range list {
		i, err := toInt64(item)
		if err != nil {
			return nil, errors.WithMessagef(err, "element %d", ii)
		}
		values[ii] = i
	}
	return values, nil
}
