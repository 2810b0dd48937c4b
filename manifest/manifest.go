// Package manifest loads the list of name to URL bindings that make up the
// mounted directory.
//
// Supported layouts:
//
//	# YAML mapping, order preserved
//	data.bin: https://example.com/data.bin
//	private.tar:
//	  url: https://example.com/archive.tar
//	  headers: {Authorization: "Bearer ..."}
//
//	# YAML or JSON list; names inferred from the URL when omitted
//	- https://example.com/a.iso
//	- {name: b.iso, url: "https://example.com/download?id=2"}
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/tempofs"
	"github.com/brettbedarf/tempofs/internal/util"
)

// Load reads a manifest file, choosing the format by extension.
func Load(path string) ([]*tempofs.Entry, error) {
	logger := util.GetLogger("Manifest.Load")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []*tempofs.Entry
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		entries, err = ParseYAML(data)
	case ".json":
		entries, err = ParseJSON(data)
	default:
		return nil, fmt.Errorf("unknown manifest file extension: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	logger.Info().Str("path", path).Int("entries", len(entries)).Msg("Manifest loaded")
	return entries, nil
}

// ParseYAML parses a YAML mapping or sequence manifest. Mapping order is
// kept as the directory listing order.
func ParseYAML(data []byte) ([]*tempofs.Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	var entries []*tempofs.Entry
	switch root.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, val := root.Content[i], root.Content[i+1]
			dto, err := decodeYAMLItem(val)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", key.Line, err)
			}
			dto.Name = util.Pointer(key.Value)
			entry, err := convertDTO(dto)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", key.Line, err)
			}
			entries = append(entries, entry)
		}
	case yaml.SequenceNode:
		for _, item := range root.Content {
			dto, err := decodeYAMLItem(item)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", item.Line, err)
			}
			entry, err := convertDTO(dto)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", item.Line, err)
			}
			entries = append(entries, entry)
		}
	default:
		return nil, fmt.Errorf("line %d: manifest must be a mapping or a list", root.Line)
	}
	return entries, nil
}

func decodeYAMLItem(n *yaml.Node) (*EntryDTO, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return &EntryDTO{URL: n.Value}, nil
	case yaml.MappingNode:
		var dto EntryDTO
		if err := n.Decode(&dto); err != nil {
			return nil, err
		}
		return &dto, nil
	default:
		return nil, errors.New("entry must be a URL or a mapping with a url key")
	}
}

// ParseJSON parses a JSON list manifest whose items are URL strings or
// [EntryDTO] objects.
func ParseJSON(data []byte) ([]*tempofs.Entry, error) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(data, &rawItems); err != nil {
		return nil, fmt.Errorf("manifest must be a JSON list: %w", err)
	}

	entries := make([]*tempofs.Entry, 0, len(rawItems))
	for i, raw := range rawItems {
		var dto EntryDTO
		var rawURL string
		if err := json.Unmarshal(raw, &rawURL); err == nil {
			dto.URL = rawURL
		} else if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		entry, err := convertDTO(&dto)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// convertDTO validates the URL and resolves the final flat name and UUID.
func convertDTO(dto *EntryDTO) (*tempofs.Entry, error) {
	rawURL := strings.TrimSpace(dto.URL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	switch {
	case u.Scheme == "" || u.Host == "":
		return nil, fmt.Errorf("url %q must be absolute", rawURL)
	case u.User != nil:
		return nil, fmt.Errorf("url %q must not embed credentials; use headers", rawURL)
	}

	name := util.ValueOrDefault(dto.Name, "")
	if name == "" {
		name = InferName(u)
	}
	name, err = FlattenName(name)
	if err != nil {
		return nil, err
	}

	entry := tempofs.NewEntry(name, rawURL, dto.Headers)
	if dto.UUID != nil {
		id, err := uuid.Parse(*dto.UUID)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q: %w", *dto.UUID, err)
		}
		entry.UUID = id
	}
	return entry, nil
}
