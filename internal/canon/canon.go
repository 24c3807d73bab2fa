package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode returns the compact JSON encoding of v with sorted map keys and
// without HTML escaping, so labels such as "a&b.pdf" reach the provider as
// written.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	// Encoder.Encode terminates the value with a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Merge returns a new map holding extra overlaid with mandatory. Keys present
// in both take the mandatory value; neither input is modified.
func Merge(extra, mandatory map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(mandatory))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range mandatory {
		out[k] = v
	}
	return out
}
