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
	"log"

	"github.com/musterhub/corehub/internal/clock"
)

// Validator checks signed licenses against a public key, a clock and
// the local machine's hardware identity. The zero value is not usable;
// construct one with NewValidator.
type Validator struct {
	pub    ed25519.PublicKey
	clk    clock.Clock
	hw     HardwareID
	logger *log.Logger
}

// NewValidator returns a Validator that verifies signatures against
// pub, checks expiry against the system clock, and reads hardware
// identity from the running machine.
func NewValidator(pub ed25519.PublicKey) *Validator {
	return &Validator{pub: pub, clk: clock.System{}, hw: DefaultHardwareID{}, logger: log.Default()}
}

// WithClock overrides the clock used for expiry checks, for tests.
func (v *Validator) WithClock(clk clock.Clock) *Validator {
	v.clk = clk
	return v
}

// WithHardwareID overrides the hardware identity source, for tests.
func (v *Validator) WithHardwareID(hw HardwareID) *Validator {
	v.hw = hw
	return v
}

// WithLogger overrides the validator's logger.
func (v *Validator) WithLogger(l *log.Logger) *Validator {
	if l != nil {
		v.logger = l
	}
	return v
}

// Validate checks, in order, that the license is not being evaluated
// before its own issuance time, that it has not expired, that the
// current machine satisfies its hardware constraint, and that its
// signature verifies against the validator's public key, matching the
// source's validate_license precedence.
func (v *Validator) Validate(sl SignedLicense) error {
	now := v.clk.Now()
	if now < sl.Data.Issued {
		return newError(Internal, "clock reads before the license's issuance time", nil)
	}
	if now > sl.Data.Expires {
		return newError(Expired, "license expired", nil)
	}
	if !sl.Data.Constraint.Any {
		current, err := generateMachineID(v.hw)
		if err != nil {
			return err
		}
		currentParts, err := parseMachineID(current)
		if err != nil {
			return newError(MachineIDGeneration, "generated an invalid compound id", err)
		}
		matches := bestMatch(currentParts, sl.Data.Constraint.IDs)
		if matches < int(sl.Data.Constraint.MinMatches) {
			v.logger.Printf("license: hardware mismatch for customer %q: best match %d/%d against %s",
				sl.Data.Customer, matches, sl.Data.Constraint.MinMatches, debugComponents(current))
			return newError(HardwareMismatch, "hardware does not satisfy the license constraint", nil)
		}
	}
	encoded := encodeData(sl.Data)
	if !ed25519.Verify(v.pub, encoded, sl.Signature) {
		return newError(InvalidSignature, "signature does not verify", nil)
	}
	return nil
}
