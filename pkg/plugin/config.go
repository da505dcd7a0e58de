package plugin

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/dissect/internal/core"
)

// DecodeConfig decodes a plugin configuration map into out, a pointer to a
// struct with mapstructure tags. Strings are converted to numbers and
// durations where the target asks for them.
func DecodeConfig(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPluginInitFailed, err)
	}
	return nil
}
