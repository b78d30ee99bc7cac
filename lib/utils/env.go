package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New()

// EnvMap returns the process environment keyed by variable name.
func EnvMap() map[string]interface{} {
	env := make(map[string]interface{})
	for _, kv := range os.Environ() {
		pieces := strings.SplitN(kv, "=", 2)
		if len(pieces) == 2 {
			env[pieces[0]] = pieces[1]
		}
	}
	return env
}

// DecodeEnv fills out from the process environment. Fields keep their
// current value when the variable is not set, so callers pre-fill defaults.
func DecodeEnv(out interface{}) error {
	return DecodeMap(EnvMap(), out)
}

// DecodeMap decodes input into out using mapstructure tags and then runs
// the validate tags on the result.
func DecodeMap(input map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
