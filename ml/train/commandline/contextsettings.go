// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/gomlx/galileo/ml/context"
	"github.com/pkg/errors"
)

// ParseContextSettings updates the hyperparameters of ctx from settings, usually the value of the flag
// created by CreateContextSettingsFlag: "param1=value1;param2=value2;...".
//
// Every parameter must already have a default value in the root scope of ctx, and the value is parsed to
// the type of the default. A parameter can be set in a scope: "encoder/layer_1/dropout_rate=0.1" sets
// "dropout_rate" only for the variables under "/encoder/layer_1".
//
// Integer values may use "_" as a digit separator (1_000_000), and lists are comma separated.
func ParseContextSettings(ctx *context.Context, settings string) error {
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		paramPath, valueStr, found := strings.Cut(setting, "=")
		if !found {
			return errors.Errorf("can't parse settings %q: each setting must be \"<param>=<value>\", got %q",
				settings, setting)
		}
		scopes := strings.Split(paramPath, context.ScopeSeparator)
		key := scopes[len(scopes)-1]
		defaultValue, found := ctx.GetParam(key)
		if !found {
			return errors.Errorf("can't set parameter %q: %q has no default value in the root scope", paramPath, key)
		}
		value, err := parseValue(defaultValue, valueStr)
		if err != nil {
			return errors.WithMessagef(err, "parameter %q (default value %#v)", paramPath, defaultValue)
		}
		scopedCtx := ctx
		for _, scope := range scopes[:len(scopes)-1] {
			if scope != "" {
				scopedCtx = scopedCtx.In(scope)
			}
		}
		scopedCtx.SetParam(key, value)
	}
	return nil
}

// parseValue parses valueStr to the type of defaultValue.
func parseValue(defaultValue any, valueStr string) (any, error) {
	switch defaultValue.(type) {
	case int:
		return parseJSON[int](withoutSeparators(valueStr))
	case int32:
		return parseJSON[int32](withoutSeparators(valueStr))
	case int64:
		return parseJSON[int64](withoutSeparators(valueStr))
	case uint:
		return parseJSON[uint](withoutSeparators(valueStr))
	case uint32:
		return parseJSON[uint32](withoutSeparators(valueStr))
	case uint64:
		return parseJSON[uint64](withoutSeparators(valueStr))
	case float32:
		return parseJSON[float32](valueStr)
	case float64:
		return parseJSON[float64](valueStr)
	case bool:
		return parseJSON[bool](valueStr)
	case string:
		return valueStr, nil
	case []int:
		return parseList[int](withoutSeparators(valueStr))
	case []float64:
		return parseList[float64](valueStr)
	case []string:
		if valueStr == "" {
			return []string{}, nil
		}
		return strings.Split(valueStr, ","), nil
	}
	return nil, errors.Errorf("parameters of type %T can't be set from the command line", defaultValue)
}

func withoutSeparators(valueStr string) string {
	return strings.ReplaceAll(valueStr, "_", "")
}

func parseJSON[T any](valueStr string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(valueStr), &v)
	return v, errors.Wrapf(err, "parsing %q as %T", valueStr, v)
}

// parseList parses a list of comma separated values. An empty string is an empty list.
func parseList[T int | float64](valueStr string) ([]T, error) {
	if valueStr == "" {
		return []T{}, nil
	}
	return parseJSON[[]T]("[" + valueStr + "]")
}

// CreateContextSettingsFlag creates a string flag named flagName ("set" if empty), whose usage lists the
// hyperparameters of ctx and their defaults. Parse it with ParseContextSettings after flag.Parse:
//
//	ctx := context.New()
//	ctx.SetParams(defaults)
//	settings := commandline.CreateContextSettingsFlag(ctx, "")
//	flag.Parse()
//	must.M(commandline.ParseContextSettings(ctx, *settings))
func CreateContextSettingsFlag(ctx *context.Context, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	var usage strings.Builder
	fmt.Fprintf(&usage, "Hyperparameters to set, as a list of \"param=value\" separated by \";\". "+
		"Prefix a param with its scope (separated by %q) to set it only in that scope. Available parameters:",
		context.ScopeSeparator)
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			fmt.Fprintf(&usage, "\n%q: default value is %v", key, value)
		}
	})
	return flag.String(flagName, "", usage.String())
}

// SprintContextSettings returns the hyperparameters of ctx, one per line.
func SprintContextSettings(ctx *context.Context) string {
	var sb strings.Builder
	sb.WriteString("Context hyperparameters:")
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			fmt.Fprintf(&sb, "\n\t%q: (%T) %v", key, value, value)
		} else {
			fmt.Fprintf(&sb, "\n\t%q / %q: (%T) %v", scope, key, value, value)
		}
	})
	return sb.String()
}
