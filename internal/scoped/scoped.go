// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped holds hyperparameters organized in a tree of scopes, where a lookup falls back
// to the parent scopes.
package scoped

import (
	"maps"
	"slices"
	"strings"
)

// Params maps (scope, key) to values of any type. Scopes are paths like "/", "/encoder" or
// "/encoder/layer_0", separated by Separator.
//
// Get searches the key from the given scope up to the root, returning the first value found:
//
//	Scope "/":       {"learning_rate": 0.01, "hidden_dim": 64}
//	Scope "/layer_1": {"hidden_dim": 7}
//
//	Get("/layer_1", "hidden_dim")    -> 7
//	Get("/layer_1", "learning_rate") -> 0.01
//	Get("/layer_0", "hidden_dim")    -> 64
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New creates empty Params.
func New(separator string) *Params {
	return &Params{
		Separator:  separator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Clone returns a copy of the Params. Values themselves are not deep copied.
func (p *Params) Clone() *Params {
	p2 := New(p.Separator)
	for scope, values := range p.scopeToMap {
		p2.scopeToMap[scope] = maps.Clone(values)
	}
	return p2
}

// Set the value of key in the given scope.
func (p *Params) Set(scope, key string, value any) {
	values, found := p.scopeToMap[scope]
	if !found {
		values = make(map[string]any)
		p.scopeToMap[scope] = values
	}
	values[key] = value
}

// Delete removes key from the given scope only. Values in parent scopes are not affected.
func (p *Params) Delete(scope, key string) {
	if values, found := p.scopeToMap[scope]; found {
		delete(values, key)
	}
}

// parent returns the parent of scope, and false if scope is the root.
func (p *Params) parent(scope string) (string, bool) {
	if scope == p.Separator || scope == "" {
		return "", false
	}
	idx := strings.LastIndex(scope, p.Separator)
	if idx <= 0 {
		return p.Separator, true
	}
	return scope[:idx], true
}

// Get the value of key in scope or in the closest parent scope that has it.
func (p *Params) Get(scope, key string) (value any, found bool) {
	for {
		if values, ok := p.scopeToMap[scope]; ok {
			if value, found = values[key]; found {
				return value, true
			}
		}
		var ok bool
		if scope, ok = p.parent(scope); !ok {
			return nil, false
		}
	}
}

// Enumerate calls fn for every value, sorted by scope and then by key.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	for _, scope := range slices.Sorted(maps.Keys(p.scopeToMap)) {
		values := p.scopeToMap[scope]
		for _, key := range slices.Sorted(maps.Keys(values)) {
			fn(scope, key, values[key])
		}
	}
}
