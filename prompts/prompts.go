package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Prompt keys.
const (
	Chat          = "chat"
	AutofixLocate = "autofix_locate"
	AutofixPatch  = "autofix_patch"
)

//go:embed prompts.yaml
var defaultPrompts []byte

type Store struct {
	prompts map[string]string
}

// Defaults returns the prompts compiled into the binary.
func Defaults() *Store {
	s, err := parse(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts.yaml is invalid: %v", err))
	}
	return s
}

// Load overlays the prompts in path on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Store, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file %s: %w", path, err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompts file %s: %w", path, err)
	}
	for k, v := range override.prompts {
		s.prompts[k] = v
	}
	return s, nil
}

func parse(data []byte) (*Store, error) {
	parsed := make(map[string]string)
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return &Store{prompts: parsed}, nil
}

func (s *Store) Get(key string) string {
	return s.prompts[key]
}

func (s *Store) MustGet(key string) string {
	val := s.Get(key)
	if val == "" {
		panic(fmt.Sprintf("prompt %q not found", key))
	}
	return val
}

// Keys returns the loaded prompt names, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.prompts))
	for k := range s.prompts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
