// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// DType of a schema field.
type DType string

const (
	DTInt64      DType = "DT_INT64"
	DTString     DType = "DT_STRING"
	DTFloat      DType = "DT_FLOAT"
	DTArrayFloat DType = "DT_ARRAY_FLOAT"
	DTArrayInt64 DType = "DT_ARRAY_INT64"
)

// Attr is a vertex attribute (a feature) in the schema.
type Attr struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`

	// Dim is the fixed number of values for array types. Scalars always have Dim 1.
	Dim int `json:"dim,omitempty"`
}

// Width returns the number of values of the attribute.
func (a Attr) Width() int {
	if a.DType == DTArrayFloat || a.DType == DTArrayInt64 {
		return a.Dim
	}
	return 1
}

// IsDense returns whether the attribute is stored as a dense (float32) feature. Otherwise, it's
// a sparse (int64) feature.
func (a Attr) IsDense() bool {
	return a.DType == DTFloat || a.DType == DTArrayFloat
}

// VertexSchema describes one vertex type. Text records of the type have the fields
// `vtype, entity, [weight], attrs...`, in this order.
type VertexSchema struct {
	VType  uint8  `json:"vtype"`
	Entity DType  `json:"entity"`
	Weight DType  `json:"weight,omitempty"`
	Attrs  []Attr `json:"attrs,omitempty"`
}

// EdgeSchema describes one edge type. Text records of the type have the fields
// `etype, entity_1, entity_2, [weight]`, in this order.
type EdgeSchema struct {
	EType   uint8 `json:"etype"`
	Entity1 DType `json:"entity_1"`
	Entity2 DType `json:"entity_2"`
	Weight  DType `json:"weight,omitempty"`
}

// Schema of a graph: its vertex and edge types.
type Schema struct {
	Vertices []VertexSchema `json:"vertexes"`
	Edges    []EdgeSchema   `json:"edges"`
}

// LoadSchema reads a JSON schema from filePath and validates it.
func LoadSchema(filePath string) (*Schema, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading schema from %q", filePath)
	}
	s := &Schema{}
	if err = json.Unmarshal(contents, s); err != nil {
		return nil, errors.Wrapf(err, "parsing schema in %q", filePath)
	}
	if err = s.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid schema in %q", filePath)
	}
	return s, nil
}

// Save writes the schema as JSON to filePath.
func (s *Schema) Save(filePath string) error {
	contents, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding schema")
	}
	if err = os.WriteFile(filePath, contents, 0644); err != nil {
		return errors.Wrapf(err, "writing schema to %q", filePath)
	}
	return nil
}

func validEntity(dtype DType) bool { return dtype == DTInt64 || dtype == DTString }

// Validate checks that types are unique, entity and weight types are valid and that attributes sharing a
// name across vertex types have the same type and dimension.
func (s *Schema) Validate() error {
	if len(s.Vertices) == 0 {
		return errors.New("schema has no vertex types")
	}
	vtypes := make(map[uint8]bool)
	attrs := make(map[string]Attr)
	for _, v := range s.Vertices {
		if vtypes[v.VType] {
			return errors.Errorf("vertex type %d defined more than once", v.VType)
		}
		vtypes[v.VType] = true
		if !validEntity(v.Entity) {
			return errors.Errorf("vertex type %d: invalid entity dtype %q", v.VType, v.Entity)
		}
		if v.Weight != "" && v.Weight != DTFloat {
			return errors.Errorf("vertex type %d: weight must be %s, got %q", v.VType, DTFloat, v.Weight)
		}
		for _, attr := range v.Attrs {
			switch attr.DType {
			case DTFloat, DTInt64:
			case DTArrayFloat, DTArrayInt64:
				if attr.Dim <= 0 {
					return errors.Errorf("vertex type %d: array attribute %q requires a positive dim", v.VType, attr.Name)
				}
			default:
				return errors.Errorf("vertex type %d: attribute %q has unsupported dtype %q", v.VType, attr.Name, attr.DType)
			}
			if prev, found := attrs[attr.Name]; found && (prev.DType != attr.DType || prev.Width() != attr.Width()) {
				return errors.Errorf("attribute %q defined with different dtype/dim in different vertex types", attr.Name)
			}
			attrs[attr.Name] = attr
		}
	}
	etypes := make(map[uint8]bool)
	for _, e := range s.Edges {
		if etypes[e.EType] {
			return errors.Errorf("edge type %d defined more than once", e.EType)
		}
		etypes[e.EType] = true
		if !validEntity(e.Entity1) || !validEntity(e.Entity2) {
			return errors.Errorf("edge type %d: invalid entity dtypes %q, %q", e.EType, e.Entity1, e.Entity2)
		}
		if e.Weight != "" && e.Weight != DTFloat {
			return errors.Errorf("edge type %d: weight must be %s, got %q", e.EType, DTFloat, e.Weight)
		}
	}
	return nil
}

// Vertex returns the schema of the vertex type.
func (s *Schema) Vertex(vtype uint8) (*VertexSchema, bool) {
	for ii := range s.Vertices {
		if s.Vertices[ii].VType == vtype {
			return &s.Vertices[ii], true
		}
	}
	return nil, false
}

// Edge returns the schema of the edge type.
func (s *Schema) Edge(etype uint8) (*EdgeSchema, bool) {
	for ii := range s.Edges {
		if s.Edges[ii].EType == etype {
			return &s.Edges[ii], true
		}
	}
	return nil, false
}

// Attr returns the attribute with the given name, from any vertex type.
func (s *Schema) Attr(name string) (Attr, bool) {
	for _, v := range s.Vertices {
		for _, attr := range v.Attrs {
			if attr.Name == name {
				return attr, true
			}
		}
	}
	return Attr{}, false
}
