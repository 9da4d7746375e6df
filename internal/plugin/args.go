package plugin

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	argsValidatorOnce sync.Once
	argsValidator     *validator.Validate
)

func argumentValidator() *validator.Validate {
	argsValidatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		argsValidator = v
	})
	return argsValidator
}

// BindArguments decodes raw values into target (a struct pointer) using its
// yaml tags and then runs its validate tags.
func BindArguments(target any, values map[string]any) error {
	if target == nil {
		return nil
	}
	if len(values) > 0 {
		encoded, err := yaml.Marshal(values)
		if err != nil {
			return fmt.Errorf("encode arguments: %w", err)
		}
		if err := yaml.Unmarshal(encoded, target); err != nil {
			return fmt.Errorf("decode arguments: %w", err)
		}
	}

	if err := argumentValidator().Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("argument %q failed %q validation", first.Field(), first.Tag())
		}
		return err
	}
	return nil
}

// ParseArgumentOverrides turns "plugin.key=value" pairs into a per-plugin
// argument map. Values are decoded as YAML scalars so numbers, booleans and
// durations keep their natural type.
func ParseArgumentOverrides(pairs []string) (map[string]map[string]any, error) {
	result := make(map[string]map[string]any)
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q must have the form plugin.key=value", pair)
		}
		pluginName, argName, ok := strings.Cut(strings.TrimSpace(key), ".")
		if !ok || pluginName == "" || argName == "" {
			return nil, fmt.Errorf("argument %q must have the form plugin.key=value", pair)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}

		if result[pluginName] == nil {
			result[pluginName] = make(map[string]any)
		}
		result[pluginName][argName] = value
	}
	return result, nil
}

// MergeArguments overlays overrides on base without mutating either.
func MergeArguments(base, overrides map[string]map[string]any) map[string]map[string]any {
	merged := make(map[string]map[string]any, len(base)+len(overrides))
	for name, values := range base {
		merged[name] = make(map[string]any, len(values))
		for k, v := range values {
			merged[name][k] = v
		}
	}
	for name, values := range overrides {
		if merged[name] == nil {
			merged[name] = make(map[string]any, len(values))
		}
		for k, v := range values {
			merged[name][k] = v
		}
	}
	return merged
}
