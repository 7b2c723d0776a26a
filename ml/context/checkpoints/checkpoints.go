// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements saving and loading of checkpoints of a context.Context: its
// variables (embedding tables and layer weights) and, optionally, its hyperparameters.
//
// The main object is the Handler, created by calling Build, followed by the various options setting
// and finally calling Config.Done. Once created, if a previous checkpoint exists in the directory,
// its parameters are set into the Context and its variable values are used as the variables are
// created by the model.
//
// Example: save a checkpoint every 5 epochs, keeping the last 3.
//
//	ctx := context.New()
//	checkpoint, err := checkpoints.Build(ctx).Dir(*flagCheckpoint).Keep(3).Done()
//	must.M(err)
//	…
//	loop := train.NewLoop(trainer)
//	train.EveryNEpochs(loop, 5, true, "checkpointing", 100, checkpoint.OnStepFn)
//
// Checkpoints are stored as pairs of files with the same base name: a JSON metadata file and a
// binary file with the float32 values (little-endian) of all variables, in the order listed in
// the metadata.
package checkpoints

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/data"
	"github.com/gomlx/galileo/ml/train"
	"github.com/gomlx/galileo/ml/train/optimizers"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)
)

// Config for the checkpoints Handler to be created. This is created with Build() and
// configured with the various methods. Once finished, call Done() and it will output
// a checkpoints.Handler that loads (if there are any previously saved checkpoints) and
// saves checkpoints.
type Config struct {
	ctx *context.Context

	err error

	dir             string
	includeParams   bool
	keep            int
	takeMean        int
	excludeFromSave map[*context.Variable]bool
}

// Build a configuration for building a checkpoints.Handler. After configuring the
// Config object returned, call `Done` to get the configured checkpoints.Handler.
func Build(ctx *context.Context) *Config {
	return &Config{
		ctx:             ctx,
		includeParams:   true,
		keep:            1,
		takeMean:        1,
		excludeFromSave: make(map[*context.Variable]bool),
	}
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory where to save / load the checkpoints. It is created if it doesn't exist.
//
// One must set either Dir or DirFromBase before building the checkpoints.Handler.
func (c *Config) Dir(dir string) *Config {
	dir = data.ReplaceTildeInDir(dir)
	c.dir = dir
	fi, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", dir))
		return c
	}
	if err == nil {
		if !fi.IsDir() {
			c.setError(errors.Errorf("directory name %q exists but it's a normal file, not a directory", dir))
		}
		return c
	}
	if err = os.MkdirAll(dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", dir))
	}
	return c
}

// DirFromBase sets the directory where to save / load the checkpoints.
// If `dir` is not an absolute path, assumes it is a subdirectory of baseDir.
func (c *Config) DirFromBase(dir, baseDir string) *Config {
	dir = data.ReplaceTildeInDir(dir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(data.ReplaceTildeInDir(baseDir), dir)
	}
	return c.Dir(dir)
}

// ExcludeParams configures Handler to exclude the Context parameters (hyperparameters set
// with Context.SetParam).
//
// By default, Params are loaded and set into Context the moment Handler is created
// (when Done() is called), overriding values already present in the Context.
func (c *Config) ExcludeParams() *Config {
	c.includeParams = false
	return c
}

// ExcludeVarsFromSaving enumerate variables to be excluded from saving.
// The function can be called multiple times, adding variables to be excluded from saving.
func (c *Config) ExcludeVarsFromSaving(vars ...*context.Variable) *Config {
	for _, v := range vars {
		c.excludeFromSave[v] = true
	}
	return c
}

// Keep configures the number of checkpoints to keep. If set to -1, it will never erase older checkpoints.
// The default is 1.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// TakeMean loads the mean of the last `n` checkpoints.
// If `n <= 0`, take the mean of all available checkpoints.
// Only trainable variables are averaged: the others (e.g. the global step or optimizer state)
// are taken from the most recent checkpoint.
//
// The default is 1, so only load the most recent checkpoint.
func (c *Config) TakeMean(n int) *Config {
	c.takeMean = n
	return c
}

// Done creates a Handler with the current configuration. It returns an error if
// the configuration is invalid, or if it's missing information.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" {
		return nil, errors.Errorf("directory for checkpoints not configured or empty")
	}
	handler := &Handler{config: c, serialized: &serializedData{}}
	checkpoints, err := handler.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	handler.checkpointsCount = maxCheckPointCountFromCheckpoints(checkpoints) + 1
	if len(checkpoints) > 0 {
		takeMean := c.takeMean
		if takeMean <= 0 || takeMean > len(checkpoints) {
			takeMean = len(checkpoints)
		}
		if takeMean == 1 {
			err = handler.loadCheckpoint(checkpoints[len(checkpoints)-1], false, 0)
		} else {
			err = handler.takeMean(checkpoints[len(checkpoints)-takeMean:])
		}
		if err != nil {
			return nil, err
		}
	}
	handler.attachTo(c.ctx)
	return handler, nil
}

// Handler handles saving and loading of checkpoints for a context.Context.
//
// Loading happens at its creation time, from the latest checkpoint: (hyper-)parameters are
// immediately set into the context, but the variable values are only consumed as the variables
// are created by the model.
//
// Saving of checkpoints is explicit, by calling Handler.Save, usually from a training loop hook.
// All variables in the Context are saved, along with any previously loaded values not yet used
// by the Context.
//
// A Handler can only be attached to one context.Context.
type Handler struct {
	config            *Config
	ctx               *context.Context
	prevContextLoader context.Loader

	serialized     *serializedData
	variableValues map[string]*tensors.Tensor[float32]
	trainable      map[string]bool

	checkpointsCount int
}

// serializedData is how the information is read and written from storage.
type serializedData struct {
	Params []serializedParam

	// Variables in the order they are stored in the data file.
	Variables []serializedVar
}

// serializedVar contains information about the variable that was serialized.
type serializedVar struct {
	// ScopeAndName is a Variable unique id.
	ScopeAndName string

	// Dimensions of the variable.
	Dimensions []int

	Trainable bool

	// Pos, Length in bytes in the data file.
	Pos, Length int
}

// serializedParam represents a serialized context parameter.
// It includes the original ValueType, because the Json decoder may
// not be capable of recovering the original type in anonymous (any) Value.
type serializedParam struct {
	Scope, Key string
	Value      any
	ValueType  string
}

// jsonDecodeTypeConvert converts the Value decoded by Json into the original ValueType.
//
// E.g.: Json decoder will decode all numbers to float64.
func (p *serializedParam) jsonDecodeTypeConvert() {
	switch value := p.Value.(type) {
	case float64:
		switch p.ValueType {
		case "int":
			p.Value = int(value)
		case "int32":
			p.Value = int32(value)
		case "int64":
			p.Value = int64(value)
		case "float32":
			p.Value = float32(value)
		}
	case []any:
		switch p.ValueType {
		case "[]int":
			p.Value = convertList(value, func(f float64) int { return int(f) })
		case "[]float64":
			p.Value = convertList(value, func(f float64) float64 { return f })
		case "[]string":
			list := make([]string, len(value))
			for ii, v := range value {
				list[ii], _ = v.(string)
			}
			p.Value = list
		}
	}
}

func convertList[T any](values []any, fn func(float64) T) []T {
	list := make([]T, len(values))
	for ii, v := range values {
		f, _ := v.(float64)
		list[ii] = fn(f)
	}
	return list
}

// String implements Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// newCheckpointBaseName returns the base name for the checkpoint files.
func (h *Handler) newCheckpointBaseName(globalStep int64) string {
	now := time.Now().Format("20060102-150405")
	baseName := fmt.Sprintf("%sn%07d-%s", baseNamePrefix, h.checkpointsCount, now)
	if globalStep > 0 {
		return fmt.Sprintf("%s-step-%08d", baseName, globalStep)
	}
	return baseName + "-initial"
}

const (
	baseNamePrefix = "checkpoint-"
	jsonNameSuffix = ".json"
	varDataSuffix  = ".bin"
)

// ListCheckpoints returns the base file name of the checkpoints in the directory in time order (older first).
func (h *Handler) ListCheckpoints() (checkpoints []string, err error) {
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", h)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, jsonNameSuffix) {
			continue
		}
		checkpoints = append(checkpoints, strings.TrimSuffix(fileName, jsonNameSuffix))
	}
	sort.Strings(checkpoints)
	return checkpoints, nil
}

// HasCheckpoints returns whether there are any checkpoints saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckPointCountFromCheckpoints returns the largest count in the saved checkpoints names,
// so the next checkpoint saved uses count+1. It returns -1 if there are none.
func maxCheckPointCountFromCheckpoints(checkpoints []string) int {
	maxID := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		maxID = max(maxID, id)
	}
	return maxID
}

// loadCheckpoint loads a specific checkpoint. This needs to happen before attachTo.
//
// If merge is false, loading a checkpoint discards the previous one read. If merge is true, only
// the trainable variables are merged into the current values, with mergeWeight for the new values.
func (h *Handler) loadCheckpoint(baseName string, merge bool, mergeWeight float32) error {
	klog.V(1).Infof("%s: loading %q", h, baseName)
	if h.ctx != nil {
		return errors.Errorf("%s tried to loadCheckpoint(%q) after being attached to a Context, this is not allowed", h, baseName)
	}

	jsonFileName := filepath.Join(h.config.dir, baseName+jsonNameSuffix)
	jsonFile, err := os.Open(jsonFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint metadata file %s", h, jsonFileName)
	}
	var serialized *serializedData
	err = json.NewDecoder(jsonFile).Decode(&serialized)
	_ = jsonFile.Close()
	if err != nil {
		return errors.Wrapf(err, "%s: failed to decode contents of checkpoint metadata file %s", h, jsonFileName)
	}
	if h.config.includeParams {
		for ii := range serialized.Params {
			serialized.Params[ii].jsonDecodeTypeConvert()
		}
	} else {
		serialized.Params = nil
	}
	if !merge {
		h.serialized = serialized
		h.variableValues = make(map[string]*tensors.Tensor[float32], len(serialized.Variables))
		h.trainable = make(map[string]bool, len(serialized.Variables))
	}

	varFileName := filepath.Join(h.config.dir, baseName+varDataSuffix)
	varFile, err := os.Open(varFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint data file %s", h, varFileName)
	}
	defer func() { _ = varFile.Close() }()
	reader := bufio.NewReader(varFile)
	for _, varInfo := range serialized.Variables {
		value := tensors.Zeros[float32](varInfo.Dimensions...)
		if err = binary.Read(reader, binary.LittleEndian, value.Data()); err != nil {
			return errors.Wrapf(err, "%s: failed to read variable %q from checkpoint data file %s at position %d",
				h, varInfo.ScopeAndName, varFileName, varInfo.Pos)
		}
		if !merge {
			h.variableValues[varInfo.ScopeAndName] = value
			h.trainable[varInfo.ScopeAndName] = varInfo.Trainable
			continue
		}
		current, found := h.variableValues[varInfo.ScopeAndName]
		if !found || !h.trainable[varInfo.ScopeAndName] {
			continue
		}
		if current.Size() != value.Size() {
			return errors.Errorf("%s: variable %q has shape %s in %q, but %s in the latest checkpoint",
				h, varInfo.ScopeAndName, value.ShapeString(), baseName, current.ShapeString())
		}
		currentData := current.Data()
		for ii, v := range value.Data() {
			currentData[ii] = currentData[ii]*(1-mergeWeight) + v*mergeWeight
		}
	}
	return nil
}

// takeMean loads the checkpoints pointed by baseNames and take the mean of their trainable
// variables. Everything else is taken from the last checkpoint.
func (h *Handler) takeMean(baseNames []string) error {
	if err := h.loadCheckpoint(baseNames[len(baseNames)-1], false, 0); err != nil {
		return err
	}
	for ii, baseName := range baseNames[:len(baseNames)-1] {
		mergeWeight := 1 / (float32(ii) + 2)
		if err := h.loadCheckpoint(baseName, true, mergeWeight); err != nil {
			return err
		}
	}
	return nil
}

// Save creates a new checkpoint and save the context variables and (optionally) Params.
//
// All variables in the context are saved, as well as those previously loaded and not yet used,
// so one can load the variables for a part of the model, update that part and save everything.
func (h *Handler) Save() error {
	if h.ctx == nil {
		return errors.Errorf("%s not attached to a context.Context yet", h)
	}
	globalStep := optimizers.GetGlobalStep(h.ctx)

	if h.config.includeParams {
		h.serialized.Params = nil
		h.ctx.EnumerateParams(func(scope, key string, value any) {
			h.serialized.Params = append(h.serialized.Params,
				serializedParam{Scope: scope, Key: key, Value: value, ValueType: fmt.Sprintf("%T", value)})
		})
	}

	baseName := h.newCheckpointBaseName(globalStep)
	h.checkpointsCount++
	varFileName := filepath.Join(h.config.dir, baseName+varDataSuffix)
	varFile, err := os.Create(varFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint data file %s", h, varFileName)
	}
	writer := bufio.NewWriter(varFile)

	h.serialized.Variables = make([]serializedVar, 0, h.ctx.NumVariables()+len(h.variableValues))
	pos := 0
	saveVar := func(name string, trainable bool, value *tensors.Tensor[float32]) error {
		if err := binary.Write(writer, binary.LittleEndian, value.Data()); err != nil {
			return errors.Wrapf(err, "%s: failed to write variable %s", h, name)
		}
		length := 4 * value.Size()
		h.serialized.Variables = append(h.serialized.Variables, serializedVar{
			ScopeAndName: name,
			Dimensions:   value.Dims(),
			Trainable:    trainable,
			Pos:          pos,
			Length:       length,
		})
		pos += length
		return nil
	}
	for v := range h.ctx.IterVariables() {
		if h.config.excludeFromSave[v] {
			continue
		}
		if err = saveVar(v.ScopeAndName(), v.Trainable, v.Value()); err != nil {
			_ = varFile.Close()
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(h.variableValues)) {
		if err = saveVar(name, h.trainable[name], h.variableValues[name]); err != nil {
			_ = varFile.Close()
			return err
		}
	}
	if err = writer.Flush(); err != nil {
		_ = varFile.Close()
		return errors.Wrapf(err, "%s: failed to write checkpoint data file %s", h, varFileName)
	}
	if err = varFile.Close(); err != nil {
		return errors.Wrapf(err, "%s: failed to close checkpoint data file %s", h, varFileName)
	}

	// The metadata is written last: a checkpoint is only listed once it's complete.
	jsonFileName := filepath.Join(h.config.dir, baseName+jsonNameSuffix)
	if err = writeJSON(jsonFileName, h.serialized); err != nil {
		return errors.WithMessagef(err, "%s: failed to write checkpoint metadata file %s", h, jsonFileName)
	}
	klog.V(1).Infof("%s: saved %q", h, baseName)
	return h.keepNCheckpoints()
}

func writeJSON(fileName string, value any) error {
	f, err := os.Create(fileName)
	if err != nil {
		return errors.WithStack(err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	if err = enc.Encode(value); err != nil {
		_ = f.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Close())
}

// OnStepFn implements `train.OnStepFn`, and make it convenient to attach to a training loop.
// It simply calls Save.
func (h *Handler) OnStepFn(_ *train.Loop, _ []float64) error {
	return h.Save()
}

// keepNCheckpoints removes the excess checkpoints, older first.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return errors.WithMessagef(err, "%s failed to list saved checkpoints", h)
	}
	if len(list) <= h.config.keep {
		return nil
	}
	for _, baseName := range list[:len(list)-h.config.keep] {
		// Metadata first, so a partially removed checkpoint is not listed.
		for _, suffix := range []string{jsonNameSuffix, varDataSuffix} {
			fileName := filepath.Join(h.config.dir, baseName+suffix)
			err = os.Remove(fileName)
			if err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
			}
		}
	}
	return nil
}

// attachTo attaches Handler to a context.Context, installing it as its Loader, and sets the
// Context's Params from the loaded values (except if the Handler was configured with ExcludeParams).
func (h *Handler) attachTo(ctx *context.Context) {
	if h.ctx != nil {
		exceptions.Panicf("%s already attached to a Context, can not attach to another one", h)
	}
	h.ctx = ctx
	h.prevContextLoader = ctx.Loader()
	ctx.SetLoader(h)
	if h.config.includeParams {
		for _, p := range h.serialized.Params {
			ctx.InAbsPath(p.Scope).SetParam(p.Key, p.Value)
		}
	}
}

// Dir returns the directory the Handler is configured to.
//
// It returns "" (empty) if the Handler is `nil`.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

// LoadVariable implements context.Loader. It is called by context.Context when the variable is
// created, and the value is "consumed", that is, removed from the Handler.
//
// Previously installed loaders take priority.
func (h *Handler) LoadVariable(ctx *context.Context, scope, name string) (value *tensors.Tensor[float32], found bool) {
	if h.prevContextLoader != nil {
		value, found = h.prevContextLoader.LoadVariable(ctx, scope, name)
		if found {
			return
		}
	}
	key := context.JoinScope(scope, name)
	value, found = h.variableValues[key]
	if found {
		delete(h.variableValues, key)
	}
	return
}

// LoadedVariables for inspection: the values loaded and not yet used by the context.
//
// The Handler owns the returned map, don't change it.
func (h *Handler) LoadedVariables() map[string]*tensors.Tensor[float32] {
	return h.variableValues
}

