package persist

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// codec converts values and container mappings to and from one
// serialization format. Container fragments are kept as raw encoded
// bytes so entries for unregistered record names survive a merge-write
// verbatim.
type codec interface {
	format() Format
	marshal(v any) ([]byte, error)
	unmarshal(data []byte, v any) error
	decodeContainer(data []byte) (map[string][]byte, error)
	encodeContainer(entries map[string][]byte) ([]byte, error)
}

func codecFor(f Format) (codec, error) {
	switch f {
	case FormatJSON:
		return jsonCodec{}, nil
	case FormatYAML:
		return yamlCodec{}, nil
	default:
		return nil, fmt.Errorf("persist: unknown format %v", f)
	}
}

type jsonCodec struct{}

func (jsonCodec) format() Format { return FormatJSON }

func (jsonCodec) marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &FormatError{Format: FormatJSON, Err: err}
	}
	return data, nil
}

func (jsonCodec) unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &FormatError{Format: FormatJSON, Err: err}
	}
	return nil
}

func (jsonCodec) decodeContainer(data []byte) (map[string][]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string][]byte{}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &FormatError{Format: FormatJSON, Err: err}
	}
	entries := make(map[string][]byte, len(raw))
	for name, fragment := range raw {
		entries[name] = []byte(fragment)
	}
	return entries, nil
}

func (jsonCodec) encodeContainer(entries map[string][]byte) ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(entries))
	for name, fragment := range entries {
		raw[name] = json.RawMessage(fragment)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, &FormatError{Format: FormatJSON, Err: err}
	}
	return data, nil
}

type yamlCodec struct{}

func (yamlCodec) format() Format { return FormatYAML }

func (yamlCodec) marshal(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, &FormatError{Format: FormatYAML, Err: err}
	}
	return data, nil
}

func (yamlCodec) unmarshal(data []byte, v any) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return &FormatError{Format: FormatYAML, Err: err}
	}
	return nil
}

func (yamlCodec) decodeContainer(data []byte) (map[string][]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string][]byte{}, nil
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &FormatError{Format: FormatYAML, Err: err}
	}
	entries := make(map[string][]byte, len(raw))
	for name, node := range raw {
		fragment, err := yaml.Marshal(&node)
		if err != nil {
			return nil, &FormatError{Format: FormatYAML, Err: err}
		}
		entries[name] = fragment
	}
	return entries, nil
}

func (yamlCodec) encodeContainer(entries map[string][]byte) ([]byte, error) {
	raw := make(map[string]yaml.Node, len(entries))
	for name, fragment := range entries {
		var node yaml.Node
		if err := yaml.Unmarshal(fragment, &node); err != nil {
			return nil, &FormatError{Format: FormatYAML, Err: err}
		}
		// Unmarshalling into a Node yields a document node; store its
		// content so the container maps names straight to values.
		value := &node
		if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
			value = node.Content[0]
		}
		raw[name] = *value
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, &FormatError{Format: FormatYAML, Err: err}
	}
	return data, nil
}
