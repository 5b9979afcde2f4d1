package manifest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"

	"github.com/ossyrian/bundlr/internal/resource"
)

// Format is a manifest file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unknown manifest format for %s", path)
	}
}

// rawSource is the object form of a value: exactly one field may be set.
type rawSource struct {
	URI    string  `json:"uri" yaml:"uri"`
	Base64 string  `json:"base64" yaml:"base64"`
	Text   *string `json:"text" yaml:"text"`
}

// Load reads a manifest file. Relative resource paths are resolved against
// the manifest's directory.
func Load(path string, opts ...resource.Option) (Bundle, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	opts = append([]resource.Option{resource.WithBaseDir(filepath.Dir(path))}, opts...)
	return Decode(f, format, opts...)
}

// Decode parses a manifest, preserving entry order.
func Decode(r io.Reader, format Format, opts ...resource.Option) (Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var b Bundle
	switch format {
	case FormatJSON:
		b, err = decodeJSON(data, opts)
	case FormatYAML:
		b, err = decodeYAML(data, opts)
	case FormatTOML:
		b, err = decodeTOML(data, opts)
	default:
		err = fmt.Errorf("unknown manifest format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return b, nil
}

func (raw rawSource) source(opts []resource.Option) (Source, error) {
	set := 0
	var src Source
	if raw.URI != "" {
		set++
		src = Ref{resource.New(raw.URI, opts...)}
	}
	if raw.Base64 != "" {
		set++
		data, err := base64.StdEncoding.DecodeString(raw.Base64)
		if err != nil {
			return nil, fmt.Errorf("bad base64 content: %w", err)
		}
		src = Binary(data)
	}
	if raw.Text != nil {
		set++
		src = Text(*raw.Text)
	}
	if set > 1 {
		return nil, errors.New("only one of uri, base64 and text may be set")
	}
	return src, nil
}

// decodeJSON walks the top-level object token by token so keys keep their
// order.
func decodeJSON(data []byte, opts []resource.Option) (Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("manifest must be a JSON object")
	}

	var b Bundle
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		path := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("entry %s: %w", path, err)
		}

		src, err := jsonSource(value, opts)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", path, err)
		}
		b.Add(path, src)
	}
	return b, nil
}

func jsonSource(value json.RawMessage, opts []resource.Option) (Source, error) {
	switch trimmed := bytes.TrimSpace(value); {
	case bytes.Equal(trimmed, []byte("null")):
		return nil, nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return Text(s), nil
	case len(trimmed) > 0 && trimmed[0] == '{':
		var raw rawSource
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
		return raw.source(opts)
	default:
		return nil, fmt.Errorf("unsupported value %s", trimmed)
	}
}

func decodeYAML(data []byte, opts []resource.Option) (Bundle, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("manifest must be a YAML mapping")
	}

	var b Bundle
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		path := key.Value

		var src Source
		switch value.Kind {
		case yaml.ScalarNode:
			switch value.ShortTag() {
			case "!!null":
			case "!!binary":
				// line breaks inside the base64 text are allowed
				data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(value.Value), ""))
				if err != nil {
					return nil, fmt.Errorf("entry %s: bad binary content: %w", path, err)
				}
				src = Binary(data)
			default:
				src = Text(value.Value)
			}
		case yaml.MappingNode:
			var raw rawSource
			if err := value.Decode(&raw); err != nil {
				return nil, fmt.Errorf("entry %s: %w", path, err)
			}
			var err error
			if src, err = raw.source(opts); err != nil {
				return nil, fmt.Errorf("entry %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("entry %s: unsupported value", path)
		}
		b.Add(path, src)
	}
	return b, nil
}

// TOML tables are unordered, so TOML manifests use an array of tables:
//
//	[[entry]]
//	path = "/usr/"
//	uri = "base.tar.gz"
type tomlManifest struct {
	Entry []struct {
		Path   string  `toml:"path"`
		URI    string  `toml:"uri"`
		Base64 string  `toml:"base64"`
		Text   *string `toml:"text"`
	} `toml:"entry"`
}

func decodeTOML(data []byte, opts []resource.Option) (Bundle, error) {
	var m tomlManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	var b Bundle
	for _, e := range m.Entry {
		raw := rawSource{URI: e.URI, Base64: e.Base64, Text: e.Text}
		src, err := raw.source(opts)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Path, err)
		}
		b.Add(e.Path, src)
	}
	return b, nil
}
