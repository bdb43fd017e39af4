// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"fmt"
	"sort"
)

var registry = map[string]Profile{}

// register adds a profile at init time. Invalid static definitions are
// programming errors and panic.
func register(d *definition) {
	must(validate(d))
	if _, dup := registry[d.name]; dup {
		panic(fmt.Sprintf("profile: duplicate profile %q", d.name))
	}
	registry[d.name] = d
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func validate(d *definition) error {
	if d.name == "" {
		return fmt.Errorf("profile: empty name")
	}
	if d.layout == nil {
		return fmt.Errorf("profile %s: no layout", d.name)
	}
	if err := d.layout.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", d.name, err)
	}
	if len(d.matchers) == 0 {
		return fmt.Errorf("profile %s: no matchers", d.name)
	}
	if len(d.requests) == 0 {
		return fmt.Errorf("profile %s: no requests", d.name)
	}
	for _, c := range append(append([]Command{}, d.handshake...), d.requests...) {
		if !c.Listen() && d.channels.Write == 0 && c.Char == 0 {
			return fmt.Errorf("profile %s: command %s has no write channel", d.name, c.Name)
		}
		if c.Listen() && len(c.Expect) == 0 {
			return fmt.Errorf("profile %s: listen step %s expects nothing", d.name, c.Name)
		}
	}
	return nil
}

// Lookup returns the profile registered under name
func Lookup(name string) (Profile, error) {
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// All returns every registered profile sorted by name
func All() []Profile {
	out := make([]Profile, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the registered profile names sorted
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, p := range all {
		names[i] = p.Name()
	}
	return names
}

// Services returns every service identifier a registered profile matches
// on, for scanners that must ask about each UUID explicitly
func Services() []uint16 {
	seen := map[uint16]bool{}
	var out []uint16
	for _, p := range All() {
		for _, m := range p.Matchers() {
			if m.Service != 0 && !seen[m.Service] {
				seen[m.Service] = true
				out = append(out, m.Service)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
