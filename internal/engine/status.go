package engine

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rules/status_mapping.yaml
var defaultStatusMapping []byte

// StatusMapping maps raw presence statuses to canonical ones, one section
// per integration.
type StatusMapping map[string]map[string]string

// ParseStatusMapping decodes a status mapping document. Keys are matched
// case-insensitively and values are stored upper-cased.
func ParseStatusMapping(data []byte) (StatusMapping, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse status mapping: %w", err)
	}
	out := make(StatusMapping, len(raw))
	for section, entries := range raw {
		m := make(map[string]string, len(entries))
		for k, v := range entries {
			v = strings.TrimSpace(v)
			if v == "" {
				return nil, fmt.Errorf("status mapping %s.%s: empty canonical status", section, k)
			}
			m[strings.ToLower(strings.TrimSpace(k))] = strings.ToUpper(v)
		}
		out[strings.ToLower(section)] = m
	}
	return out, nil
}

// LoadStatusMapping reads the document at path, or the built-in one when
// path is empty.
func LoadStatusMapping(path string) (StatusMapping, error) {
	if path == "" {
		return ParseStatusMapping(defaultStatusMapping)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status mapping: %w", err)
	}
	return ParseStatusMapping(data)
}

// StatusMapper canonicalizes raw statuses for one integration. The mapping
// can be replaced while in use.
type StatusMapper struct {
	mu      sync.RWMutex
	source  string
	mapping StatusMapping
}

func NewStatusMapper(source string, m StatusMapping) *StatusMapper {
	return &StatusMapper{source: strings.ToLower(source), mapping: m}
}

// Replace swaps in a new mapping.
func (m *StatusMapper) Replace(sm StatusMapping) {
	m.mu.Lock()
	m.mapping = sm
	m.mu.Unlock()
}

// Canonical maps raw through the configured section. Unmapped statuses, and
// every status when the section is absent, pass through upper-cased.
func (m *StatusMapper) Canonical(raw string) string {
	return m.CanonicalFor(m.source, raw)
}

// CanonicalFor maps raw through the given section.
func (m *StatusMapper) CanonicalFor(source, raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	m.mu.RLock()
	defer m.mu.RUnlock()
	if section, ok := m.mapping[strings.ToLower(source)]; ok {
		if v, ok := section[key]; ok {
			return v
		}
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}
