// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package license issues and validates Ed25519-signed, machine-bound
// license grants. A license carries a customer label, an optional
// hardware constraint, a feature bitset and a validity window; it is
// portable as either a compact binary blob (signed over directly) or
// JSON (for manifests and audit logs).
package license

import "fmt"

// FeatureSet is a bitset of named product features a license unlocks.
type FeatureSet uint32

const (
	FeatureQuiz FeatureSet = 1 << iota
	FeatureSurvey
	FeatureAnalytics
	FeatureExport
	FeatureAPI
	FeatureSSO
	FeaturePriority
	FeatureWhiteLabel
)

var featureSlugs = []struct {
	bit  FeatureSet
	slug string
}{
	{FeatureQuiz, "quiz"},
	{FeatureSurvey, "survey"},
	{FeatureAnalytics, "analytics"},
	{FeatureExport, "export"},
	{FeatureAPI, "api"},
	{FeatureSSO, "sso"},
	{FeaturePriority, "priority"},
	{FeatureWhiteLabel, "white_label"},
}

// Has reports whether every bit in want is set in f.
func (f FeatureSet) Has(want FeatureSet) bool { return f&want == want }

// Slugs returns the canonical slug for each feature bit set in f.
func (f FeatureSet) Slugs() []string {
	out := make([]string, 0, len(featureSlugs))
	for _, fs := range featureSlugs {
		if f&fs.bit != 0 {
			out = append(out, fs.slug)
		}
	}
	return out
}

// FeaturesFromSlugs resolves a list of feature slugs into a FeatureSet.
// Unrecognized slugs are reported back in unknown rather than failing
// the whole call, so a manifest with a typo'd or future feature name
// still issues a license for the features it does recognize.
func FeaturesFromSlugs(slugs []string) (set FeatureSet, unknown []string) {
	for _, s := range slugs {
		found := false
		for _, fs := range featureSlugs {
			if fs.slug == s {
				set |= fs.bit
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, s)
		}
	}
	return set, unknown
}

// MachineConstraint binds a license to zero or more machines. Any
// means the license is not hardware-locked. A non-Any constraint lists
// compound machine ids and the minimum number of their hardware
// components (cpu, mac, system id) that must match the validating
// machine's own compound id.
//
// The source represents this as an enum (Any | Threshold{ids,
// min_matches}); Go has no tagged-union type with the same ergonomics,
// so this is a flat struct with the Any flag deciding which fields
// apply, the common representation for this shape in Go APIs.
type MachineConstraint struct {
	Any        bool
	IDs        []string
	MinMatches uint16
}

// AnyMachine returns a constraint that matches every machine.
func AnyMachine() MachineConstraint { return MachineConstraint{Any: true} }

// Threshold returns a constraint satisfied when at least minMatches of
// a compound id's three hardware components match one of ids.
func Threshold(ids []string, minMatches uint16) MachineConstraint {
	return MachineConstraint{IDs: ids, MinMatches: minMatches}
}

// LicenseData is the signed payload of a license grant.
type LicenseData struct {
	Customer   string
	Alias      string
	Constraint MachineConstraint
	Features   FeatureSet
	Salt       []byte
	Issued     int64
	Expires    int64
}

// SignedLicense pairs LicenseData with an Ed25519 signature computed
// over its canonical compact-binary encoding.
type SignedLicense struct {
	Data      LicenseData
	Signature []byte
}

func (l LicenseData) String() string {
	return fmt.Sprintf("license.LicenseData{customer=%q, alias=%q, issued=%d, expires=%d, features=%v}",
		l.Customer, l.Alias, l.Issued, l.Expires, l.Features.Slugs())
}
