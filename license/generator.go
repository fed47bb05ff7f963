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

package license

import (
	"crypto/ed25519"

	"github.com/musterhub/corehub/internal/clock"
	"github.com/musterhub/corehub/ints"
)

const secondsPerDay = 24 * 60 * 60

// GenerateKeypair produces a fresh Ed25519 signing keypair from
// CSPRNG-sourced seed material. A failure to read the CSPRNG is
// treated as fatal by panicking, matching the vault package's nonce
// generation: a broken system random source is not a condition any
// caller can usefully recover from.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := make([]byte, ed25519.SeedSize)
	if err := ints.RandomFillSlice(seed); err != nil {
		panic("license: reading CSPRNG seed: " + err.Error())
	}
	priv := ed25519.NewKeyFromSeed(seed)
	for i := range seed {
		seed[i] = 0
	}
	return priv.Public().(ed25519.PublicKey), priv
}

// IssueConfig describes a license to be issued. Features is a list of
// slugs (see FeatureSet.Slugs); unrecognized slugs are dropped and
// reported in the Issue return value rather than failing issuance.
//
// Salt is optional: a caller re-issuing a license for the same
// customer (e.g. to extend its validity window or adjust its feature
// set) should pass the previous license's Salt to preserve the
// license's identity across the re-issue. Leaving it unset (all zero
// bytes) generates a fresh random salt for a brand-new license.
type IssueConfig struct {
	Customer   string
	Alias      string
	Constraint MachineConstraint
	Days       int64
	Features   []string
	Salt       [32]byte
}

// Issue signs a new license with priv, computing its validity window
// from clk. The returned unknown slice lists any feature slugs in
// cfg.Features that did not resolve to a known feature.
func Issue(priv ed25519.PrivateKey, cfg IssueConfig, clk clock.Clock) (sl SignedLicense, unknown []string, err error) {
	features, unknown := FeaturesFromSlugs(cfg.Features)
	salt := cfg.Salt[:]
	if cfg.Salt == ([32]byte{}) {
		salt = make([]byte, 32)
		if err := ints.RandomFillSlice(salt); err != nil {
			return SignedLicense{}, nil, newError(Internal, "generating license salt", err)
		}
	}
	issued := clk.Now()
	data := LicenseData{
		Customer:   cfg.Customer,
		Alias:      cfg.Alias,
		Constraint: cfg.Constraint,
		Features:   features,
		Salt:       salt,
		Issued:     issued,
		Expires:    issued + cfg.Days*secondsPerDay,
	}
	encoded := encodeData(data)
	signature := ed25519.Sign(priv, encoded)
	return SignedLicense{Data: data, Signature: signature}, unknown, nil
}

// MachineID returns the compound machine id for the running machine,
// for inclusion in a Threshold constraint's id list.
func MachineID() (string, error) {
	return generateMachineID(DefaultHardwareID{})
}
