// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Vertex to be added to a Builder.
type Vertex struct {
	Type   uint8
	ID     int64
	Weight float32

	// Dense and Sparse features, keyed by attribute name. Their lengths must match the attribute width
	// in the schema. Missing attributes are left as zeros.
	Dense  map[string][]float32
	Sparse map[string][]int64
}

// Edge to be added to a Builder.
type Edge struct {
	Type     uint8
	Src, Dst int64
	Weight   float32
}

// Builder accumulates vertices and edges and builds a Graph.
//
// Vertices must be unique. Edges can be added in any order relative to the vertices: edges whose endpoints
// are not known at Build time are dropped.
type Builder struct {
	schema *Schema
	graph  *Graph
	edges  map[uint8][]Edge
	frozen bool
}

// NewBuilder creates a builder for a graph with the given schema.
func NewBuilder(schema *Schema) (*Builder, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		Schema: schema,
		Dense:  make(map[string]*DenseColumn),
		Sparse: make(map[string]*SparseColumn),
		Edges:  make(map[uint8]*EdgeList),
		index:  make(map[int64]int32),
	}
	for _, v := range schema.Vertices {
		for _, attr := range v.Attrs {
			if attr.IsDense() {
				g.Dense[attr.Name] = &DenseColumn{Dim: attr.Width()}
			} else {
				g.Sparse[attr.Name] = &SparseColumn{Dim: attr.Width()}
			}
		}
	}
	return &Builder{schema: schema, graph: g, edges: make(map[uint8][]Edge)}, nil
}

// AddVertex adds a vertex to the graph being built.
func (b *Builder) AddVertex(v Vertex) error {
	if b.frozen {
		return errors.New("Builder.AddVertex called after Build")
	}
	vs, found := b.schema.Vertex(v.Type)
	if !found {
		return errors.Errorf("vertex %d has unknown vertex type %d", v.ID, v.Type)
	}
	g := b.graph
	if _, dup := g.index[v.ID]; dup {
		return errors.Errorf("vertex %d added more than once", v.ID)
	}
	for _, attr := range vs.Attrs {
		width := attr.Width()
		if attr.IsDense() {
			if values, ok := v.Dense[attr.Name]; ok && len(values) != width {
				return errors.Errorf("vertex %d: attribute %q has %d values, expected %d", v.ID, attr.Name, len(values), width)
			}
		} else if values, ok := v.Sparse[attr.Name]; ok && len(values) != width {
			return errors.Errorf("vertex %d: attribute %q has %d values, expected %d", v.ID, attr.Name, len(values), width)
		}
	}

	g.index[v.ID] = int32(len(g.IDs))
	g.IDs = append(g.IDs, v.ID)
	g.Types = append(g.Types, v.Type)
	g.Weights = append(g.Weights, v.Weight)
	for name, col := range g.Dense {
		values := v.Dense[name]
		if values == nil {
			values = make([]float32, col.Dim)
		}
		col.Values = append(col.Values, values...)
	}
	for name, col := range g.Sparse {
		values := v.Sparse[name]
		if values == nil {
			values = make([]int64, col.Dim)
		}
		col.Values = append(col.Values, values...)
	}
	return nil
}

// AddEdge adds an edge to the graph being built.
func (b *Builder) AddEdge(e Edge) error {
	if b.frozen {
		return errors.New("Builder.AddEdge called after Build")
	}
	if _, found := b.schema.Edge(e.Type); !found {
		return errors.Errorf("edge (%d->%d) has unknown edge type %d", e.Src, e.Dst, e.Type)
	}
	b.edges[e.Type] = append(b.edges[e.Type], e)
	return nil
}

// Build finalizes the graph. The builder can't be used afterwards.
func (b *Builder) Build() (*Graph, error) {
	if b.frozen {
		return nil, errors.New("Builder.Build called more than once")
	}
	b.frozen = true
	g := b.graph
	numVertices := len(g.IDs)
	for _, es := range b.schema.Edges {
		edges := b.edges[es.EType]
		type pair struct {
			src, dst int32
			weight   float32
		}
		pairs := make([]pair, 0, len(edges))
		var dropped int
		for _, e := range edges {
			src, okSrc := g.index[e.Src]
			dst, okDst := g.index[e.Dst]
			if !okSrc || !okDst {
				dropped++
				continue
			}
			pairs = append(pairs, pair{src: src, dst: dst, weight: e.Weight})
		}
		if dropped > 0 {
			klog.Warningf("edge type %d: dropped %d edges with unknown endpoints", es.EType, dropped)
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].src != pairs[j].src {
				return pairs[i].src < pairs[j].src
			}
			return pairs[i].dst < pairs[j].dst
		})
		el := &EdgeList{
			Starts:  make([]int32, numVertices+1),
			Targets: make([]int32, len(pairs)),
			Weights: make([]float32, len(pairs)),
		}
		for ii, p := range pairs {
			el.Targets[ii] = p.dst
			el.Weights[ii] = p.weight
			el.Starts[p.src+1]++
		}
		for vIdx := range numVertices {
			el.Starts[vIdx+1] += el.Starts[vIdx]
		}
		g.Edges[es.EType] = el
	}
	b.edges = nil
	g.prepare()
	return g, nil
}
