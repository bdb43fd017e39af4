// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNoMatch is returned when no profile claims an advertisement
	ErrNoMatch = errors.New("no profile matches advertisement")
	// ErrAmbiguousMatch is returned when two profiles claim an
	// advertisement equally well
	ErrAmbiguousMatch = errors.New("advertisement matches several profiles")
)

// Advertisement is the part of a BLE advertisement used for matching
type Advertisement struct {
	Address       string
	LocalName     string
	Services      []uint16
	Manufacturers []uint16
	RSSI          int16
}

// Matcher is one advertisement pattern. Every set criterion must hold.
type Matcher struct {
	// LocalName is a shell pattern (*, ?, [...]) or an exact name
	LocalName string
	// Service is a required advertised 16-bit service, 0 means any
	Service uint16
	// Manufacturer is a required company identifier, 0 means any
	Manufacturer uint16
}

// Match specificity weights
const (
	scoreExactName = 4
	scoreNameGlob  = 2
	scoreVendor    = 2
	scoreService   = 1
)

// Score returns how specifically m matches adv, 0 for no match
func (m Matcher) Score(adv Advertisement) int {
	score := 0
	if m.LocalName != "" {
		switch {
		case !isPattern(m.LocalName):
			if adv.LocalName != m.LocalName {
				return 0
			}
			score += scoreExactName
		default:
			ok, err := path.Match(m.LocalName, adv.LocalName)
			if err != nil || !ok {
				return 0
			}
			score += scoreNameGlob
		}
	}
	if m.Manufacturer != 0 {
		if !contains(adv.Manufacturers, m.Manufacturer) {
			return 0
		}
		score += scoreVendor
	}
	if m.Service != 0 {
		if !contains(adv.Services, m.Service) {
			return 0
		}
		score += scoreService
	}
	return score
}

// String renders the matcher for listings
func (m Matcher) String() string {
	var parts []string
	if m.LocalName != "" {
		parts = append(parts, fmt.Sprintf("name=%q", m.LocalName))
	}
	if m.Service != 0 {
		parts = append(parts, fmt.Sprintf("service=%04x", m.Service))
	}
	if m.Manufacturer != 0 {
		parts = append(parts, fmt.Sprintf("manufacturer=0x%04X", m.Manufacturer))
	}
	return strings.Join(parts, " ")
}

// Score returns the best matcher score of p for adv
func Score(p Profile, adv Advertisement) int {
	best := 0
	for _, m := range p.Matchers() {
		if s := m.Score(adv); s > best {
			best = s
		}
	}
	return best
}

// Resolve returns the profile that claims adv most specifically.
// Equal best scores from different profiles are ambiguous.
func Resolve(adv Advertisement, profiles []Profile) (Profile, error) {
	var best Profile
	bestScore := 0
	var tied []string

	for _, p := range profiles {
		s := Score(p, adv)
		switch {
		case s == 0:
			continue
		case s > bestScore:
			best, bestScore = p, s
			tied = tied[:0]
		case s == bestScore:
			tied = append(tied, p.Name())
		}
	}

	if best == nil {
		return nil, ErrNoMatch
	}
	if len(tied) > 0 {
		return nil, fmt.Errorf("%w: %s, %s", ErrAmbiguousMatch, best.Name(), strings.Join(tied, ", "))
	}
	return best, nil
}

func isPattern(name string) bool {
	return strings.ContainsAny(name, "*?[")
}

func contains(list []uint16, v uint16) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
