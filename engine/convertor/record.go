// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package convertor

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/gomlx/galileo/engine"
	"github.com/pkg/errors"
)

const (
	// FieldSeparator separates the fields of a text record.
	FieldSeparator = "\t"
	// ArraySeparator separates the values of an array field.
	ArraySeparator = ","
)

// EntityID converts an entity field to a vertex id. String entities are hashed (FNV-1a, 64 bits).
func EntityID(field string, dtype engine.DType) (int64, error) {
	switch dtype {
	case engine.DTInt64:
		id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid int64 entity %q", field)
		}
		return id, nil
	case engine.DTString:
		h := fnv.New64a()
		_, _ = h.Write([]byte(field))
		return int64(h.Sum64()), nil
	}
	return 0, errors.Errorf("invalid entity dtype %q", dtype)
}

// SliceID returns the slice (partition) of an entity field: `id mod slices` for int64 entities,
// and the 32 bits FNV-1a hash mod slices for string entities.
func SliceID(field string, dtype engine.DType, slices int) (int, error) {
	if slices <= 0 {
		return -1, errors.Errorf("invalid number of slices %d", slices)
	}
	switch dtype {
	case engine.DTInt64:
		id, err := EntityID(field, dtype)
		if err != nil {
			return -1, err
		}
		slice := id % int64(slices)
		if slice < 0 {
			slice += int64(slices)
		}
		return int(slice), nil
	case engine.DTString:
		h := fnv.New32a()
		_, _ = h.Write([]byte(field))
		return int(h.Sum32() % uint32(slices)), nil
	}
	return -1, errors.Errorf("invalid entity dtype %q", dtype)
}

func parseType(field string) (uint8, error) {
	t, err := strconv.ParseUint(strings.TrimSpace(field), 10, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid type %q", field)
	}
	return uint8(t), nil
}

func parseWeight(field string) (float32, error) {
	w, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid weight %q", field)
	}
	return float32(w), nil
}

func parseFloats(field string, width int) ([]float32, error) {
	parts := strings.Split(field, ArraySeparator)
	if len(parts) != width {
		return nil, errors.Errorf("expected %d values, got %d", width, len(parts))
	}
	values := make([]float32, width)
	for ii, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid float value %q", part)
		}
		values[ii] = float32(v)
	}
	return values, nil
}

func parseInts(field string, width int) ([]int64, error) {
	parts := strings.Split(field, ArraySeparator)
	if len(parts) != width {
		return nil, errors.Errorf("expected %d values, got %d", width, len(parts))
	}
	values := make([]int64, width)
	for ii, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid int64 value %q", part)
		}
		values[ii] = v
	}
	return values, nil
}

// ParseVertex parses a vertex text record: `vtype, entity, [weight], attrs...`.
// It returns the vertex and its slice.
func ParseVertex(schema *engine.Schema, line string, slices int) (v engine.Vertex, slice int, err error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), FieldSeparator)
	v.Type, err = parseType(fields[0])
	if err != nil {
		return
	}
	vs, found := schema.Vertex(v.Type)
	if !found {
		err = errors.Errorf("unknown vertex type %d", v.Type)
		return
	}
	numFields := 2 + len(vs.Attrs)
	if vs.Weight != "" {
		numFields++
	}
	if len(fields) != numFields {
		err = errors.Errorf("vertex type %d requires %d fields, got %d", v.Type, numFields, len(fields))
		return
	}
	if slice, err = SliceID(fields[1], vs.Entity, slices); err != nil {
		return
	}
	if v.ID, err = EntityID(fields[1], vs.Entity); err != nil {
		return
	}
	pos := 2
	v.Weight = 1
	if vs.Weight != "" {
		if v.Weight, err = parseWeight(fields[pos]); err != nil {
			return
		}
		pos++
	}
	for _, attr := range vs.Attrs {
		field := fields[pos]
		pos++
		if attr.IsDense() {
			var values []float32
			if values, err = parseFloats(field, attr.Width()); err != nil {
				err = errors.WithMessagef(err, "attribute %q", attr.Name)
				return
			}
			if v.Dense == nil {
				v.Dense = make(map[string][]float32)
			}
			v.Dense[attr.Name] = values
		} else {
			var values []int64
			if values, err = parseInts(field, attr.Width()); err != nil {
				err = errors.WithMessagef(err, "attribute %q", attr.Name)
				return
			}
			if v.Sparse == nil {
				v.Sparse = make(map[string][]int64)
			}
			v.Sparse[attr.Name] = values
		}
	}
	return
}

// ParseEdge parses an edge text record: `etype, entity_1, entity_2, [weight]`.
// It returns the edge and its slice, which is given by entity_1.
func ParseEdge(schema *engine.Schema, line string, slices int) (e engine.Edge, slice int, err error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), FieldSeparator)
	e.Type, err = parseType(fields[0])
	if err != nil {
		return
	}
	es, found := schema.Edge(e.Type)
	if !found {
		err = errors.Errorf("unknown edge type %d", e.Type)
		return
	}
	numFields := 3
	if es.Weight != "" {
		numFields++
	}
	if len(fields) != numFields {
		err = errors.Errorf("edge type %d requires %d fields, got %d", e.Type, numFields, len(fields))
		return
	}
	if slice, err = SliceID(fields[1], es.Entity1, slices); err != nil {
		return
	}
	if e.Src, err = EntityID(fields[1], es.Entity1); err != nil {
		return
	}
	if e.Dst, err = EntityID(fields[2], es.Entity2); err != nil {
		return
	}
	e.Weight = 1
	if es.Weight != "" {
		e.Weight, err = parseWeight(fields[3])
	}
	return
}
