// Package regions loads the reference state/district list that the filter
// cascade validates district choices against.
package regions

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"relief_portal_backend/internal/missingpersons/domain"

	"gopkg.in/yaml.v3"
)

//go:embed districts.yaml
var defaultDistricts []byte

// State is one entry of the reference list.
type State struct {
	Name      string   `yaml:"name" json:"name"`
	Districts []string `yaml:"districts" json:"districts"`
}

type document struct {
	States []State `yaml:"states"`
}

// Index is an immutable, case-insensitive view over the reference list.
type Index struct {
	states []State
	byName map[string]int
	known  map[string]map[string]struct{}
}

// Default returns the embedded reference list.
func Default() (*Index, error) {
	return Parse(defaultDistricts)
}

// Load reads a reference list from path, or the embedded list when path is empty.
func Load(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read districts file: %w", err)
	}
	return Parse(data)
}

// Parse builds an Index from YAML. Duplicate states are merged.
func Parse(data []byte) (*Index, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse districts: %w", err)
	}

	idx := &Index{
		byName: make(map[string]int),
		known:  make(map[string]map[string]struct{}),
	}

	for _, st := range doc.States {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return nil, fmt.Errorf("parse districts: state without a name")
		}
		key := domain.Fold(name)
		i, ok := idx.byName[key]
		if !ok {
			i = len(idx.states)
			idx.byName[key] = i
			idx.states = append(idx.states, State{Name: name})
			idx.known[key] = make(map[string]struct{})
		}
		for _, d := range st.Districts {
			d = strings.TrimSpace(d)
			dk := domain.Fold(d)
			if dk == "" {
				continue
			}
			if _, dup := idx.known[key][dk]; dup {
				continue
			}
			idx.known[key][dk] = struct{}{}
			idx.states[i].Districts = append(idx.states[i].Districts, d)
		}
	}

	return idx, nil
}

// HasDistrict reports whether district is listed under state.
func (i *Index) HasDistrict(state, district string) bool {
	if i == nil {
		return false
	}
	districts, ok := i.known[domain.Fold(state)]
	if !ok {
		return false
	}
	_, ok = districts[domain.Fold(district)]
	return ok
}

// Districts lists the districts of state in file order.
func (i *Index) Districts(state string) []string {
	if i == nil {
		return nil
	}
	pos, ok := i.byName[domain.Fold(state)]
	if !ok {
		return nil
	}
	out := make([]string, len(i.states[pos].Districts))
	copy(out, i.states[pos].Districts)
	return out
}

// States returns every state with its districts.
func (i *Index) States() []State {
	if i == nil {
		return nil
	}
	out := make([]State, len(i.states))
	for n, st := range i.states {
		out[n] = State{Name: st.Name, Districts: append([]string(nil), st.Districts...)}
	}
	return out
}

var _ domain.DistrictIndex = (*Index)(nil)
