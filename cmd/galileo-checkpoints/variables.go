// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/context/checkpoints"
	"github.com/gomlx/galileo/ml/train/optimizers"
	"github.com/pkg/errors"
)

type variableInfo struct {
	Scope, Name string
	Dims        []int
	Size        int
}

type paramInfo struct {
	Scope, Name string
	Value       any
}

type checkpointReport struct {
	Dir, Scope string
	GlobalStep int64
	Params     []paramInfo
	Variables  []variableInfo
}

// load the latest checkpoint in dir, and collects the variables under scope, sorted by scope and name.
func load(dir, scope string) (*checkpointReport, error) {
	ctx := context.New()
	handler, err := checkpoints.Build(ctx).Dir(dir).Done()
	if err != nil {
		return nil, err
	}
	if has, err := handler.HasCheckpoints(); err != nil {
		return nil, err
	} else if !has {
		return nil, errors.Errorf("no checkpoints in %q", handler.Dir())
	}
	r := &checkpointReport{Dir: handler.Dir(), Scope: scope}
	ctx.EnumerateParams(func(scope, key string, value any) {
		r.Params = append(r.Params, paramInfo{Scope: scope, Name: key, Value: value})
	})

	loaded := handler.LoadedVariables()
	prefix := strings.TrimSuffix(scope, context.ScopeSeparator) + context.ScopeSeparator
	for _, key := range slices.Sorted(maps.Keys(loaded)) {
		if scope != context.RootScope && !strings.HasPrefix(key, prefix) {
			continue
		}
		value := loaded[key]
		split := strings.LastIndex(key, context.ScopeSeparator)
		varScope, name := key[:split], key[split+1:]
		if varScope == "" {
			varScope = context.RootScope
		}
		r.Variables = append(r.Variables, variableInfo{Scope: varScope, Name: name, Dims: value.Dims(), Size: value.Size()})
	}
	// Consumes the global step value from the handler, so it must come after the variables listing.
	r.GlobalStep = optimizers.GetGlobalStep(ctx)
	return r, nil
}
