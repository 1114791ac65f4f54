package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// marshalConfig converts a device configuration to JSON TEXT for storage.
// Map keys are sorted by encoding/json, so equal configs store identically.
func marshalConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return string(bytes.TrimSpace(buf.Bytes())), nil
}

// unmarshalConfig parses JSON TEXT into a device configuration.
// Numbers are kept as json.Number so large integers survive a round trip.
func unmarshalConfig(data string) (map[string]any, error) {
	cfg := map[string]any{}
	if data == "" || data == "{}" {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// compactJSON validates and compacts a stored definition.
func compactJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("compact definition: %w", err)
	}
	return buf.String(), nil
}
