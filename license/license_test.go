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
	"errors"
	"reflect"
	"testing"

	"github.com/musterhub/corehub/internal/clock"
)

type fakeHardwareID struct {
	cpu, mac, sys string
}

func (f fakeHardwareID) CPUID() (string, error)      { return f.cpu, nil }
func (f fakeHardwareID) MACAddress() (string, error) { return f.mac, nil }
func (f fakeHardwareID) SystemID() (string, error)   { return f.sys, nil }

func machineA() fakeHardwareID { return fakeHardwareID{"cpu-a", "mac-a", "sys-a"} }
func machineB() fakeHardwareID { return fakeHardwareID{"cpu-b", "mac-b", "sys-b"} }

func TestBinaryRoundtrip(t *testing.T) {
	pub, priv := GenerateKeypair()
	sl, _, err := Issue(priv, IssueConfig{
		Customer: "acme", Alias: "prod", Constraint: AnyMachine(),
		Days: 30, Features: []string{"quiz", "survey"},
	}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	buf, err := EncodeBin(sl)
	if err != nil {
		t.Fatalf("EncodeBin: %v", err)
	}
	decoded, err := DecodeBin(buf)
	if err != nil {
		t.Fatalf("DecodeBin: %v", err)
	}
	if !reflect.DeepEqual(decoded, sl) {
		t.Fatalf("roundtrip mismatch:\n got=%+v\nwant=%+v", decoded, sl)
	}
	if err := NewValidator(pub).Validate(decoded); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestJSONRoundtrip(t *testing.T) {
	_, priv := GenerateKeypair()
	sl, _, err := Issue(priv, IssueConfig{
		Customer: "acme", Constraint: Threshold([]string{"x"}, 1), Days: 7, Features: []string{"api"},
	}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	buf, err := ToJSON(sl)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	decoded, err := FromJSON(buf)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if !reflect.DeepEqual(decoded, sl) {
		t.Fatalf("roundtrip mismatch:\n got=%+v\nwant=%+v", decoded, sl)
	}
}

func TestSignatureInvalidAfterMutation(t *testing.T) {
	pub, priv := GenerateKeypair()
	sl, _, err := Issue(priv, IssueConfig{Customer: "acme", Constraint: AnyMachine(), Days: 1}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sl.Data.Customer = "mallory"
	err = NewValidator(pub).Validate(sl)
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != InvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
}

func TestSignatureInvalidWithWrongKey(t *testing.T) {
	otherPub, _ := GenerateKeypair()
	_, priv := GenerateKeypair()
	sl, _, err := Issue(priv, IssueConfig{Customer: "acme", Constraint: AnyMachine(), Days: 1}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	err = NewValidator(otherPub).Validate(sl)
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != InvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
}

func TestExpiryEdgeCase(t *testing.T) {
	pub, priv := GenerateKeypair()
	sl, _, err := Issue(priv, IssueConfig{Customer: "acme", Constraint: AnyMachine(), Days: 0}, clock.Fixed(1))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if sl.Data.Expires != 1 {
		t.Fatalf("expected expires=1 with days=0, got %d", sl.Data.Expires)
	}
	if err := NewValidator(pub).WithClock(clock.Fixed(1)).Validate(sl); err != nil {
		t.Fatalf("expected valid at now=expires, got %v", err)
	}
	err = NewValidator(pub).WithClock(clock.Fixed(2)).Validate(sl)
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != Expired {
		t.Fatalf("expected Expired at now=2, got %v", err)
	}
}

func TestThresholdMatching(t *testing.T) {
	pub, priv := GenerateKeypair()
	allowed, err := generateMachineID(machineA())
	if err != nil {
		t.Fatalf("generateMachineID: %v", err)
	}
	sl, _, err := Issue(priv, IssueConfig{
		Customer: "acme", Constraint: Threshold([]string{allowed}, 2), Days: 1,
	}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Exact same machine: 3/3 components match, satisfies min 2.
	if err := NewValidator(pub).WithClock(clock.Fixed(1000)).WithHardwareID(machineA()).Validate(sl); err != nil {
		t.Fatalf("expected match for identical machine, got %v", err)
	}
	// Totally different machine: 0/3 components match, fails min 2.
	err = NewValidator(pub).WithClock(clock.Fixed(1000)).WithHardwareID(machineB()).Validate(sl)
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != HardwareMismatch {
		t.Fatalf("expected HardwareMismatch for unrelated machine, got %v", err)
	}
	// Machine sharing exactly one component (cpu) out of three: fails min 2.
	partial := fakeHardwareID{cpu: machineA().cpu, mac: "other-mac", sys: "other-sys"}
	err = NewValidator(pub).WithClock(clock.Fixed(1000)).WithHardwareID(partial).Validate(sl)
	if !errors.As(err, &lerr) || lerr.Kind != HardwareMismatch {
		t.Fatalf("expected HardwareMismatch for 1/3 match against min 2, got %v", err)
	}
}

func TestUnknownFeatureSlugsReported(t *testing.T) {
	_, priv := GenerateKeypair()
	sl, unknown, err := Issue(priv, IssueConfig{
		Customer: "acme", Constraint: AnyMachine(), Days: 1,
		Features: []string{"quiz", "time_travel"},
	}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "time_travel" {
		t.Fatalf("expected unknown=[time_travel], got %v", unknown)
	}
	if !sl.Data.Features.Has(FeatureQuiz) {
		t.Fatalf("expected quiz feature to be set")
	}
}

func TestIssueReusesCallerSuppliedSalt(t *testing.T) {
	_, priv := GenerateKeypair()
	var salt [32]byte
	copy(salt[:], "a fixed salt shared across reissues")

	first, _, err := Issue(priv, IssueConfig{
		Customer: "acme", Constraint: AnyMachine(), Days: 1, Salt: salt,
	}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, _, err := Issue(priv, IssueConfig{
		Customer: "acme", Constraint: AnyMachine(), Days: 30, Salt: salt,
	}, clock.Fixed(2000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !reflect.DeepEqual(first.Data.Salt, second.Data.Salt) {
		t.Fatalf("expected identical salt to be preserved across reissue, got %x vs %x", first.Data.Salt, second.Data.Salt)
	}
	if first.Data.Expires == second.Data.Expires {
		t.Fatalf("expected the reissue to actually change the validity window")
	}
}

func TestIssueGeneratesFreshSaltWhenUnset(t *testing.T) {
	_, priv := GenerateKeypair()
	first, _, err := Issue(priv, IssueConfig{Customer: "acme", Constraint: AnyMachine(), Days: 1}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, _, err := Issue(priv, IssueConfig{Customer: "acme", Constraint: AnyMachine(), Days: 1}, clock.Fixed(1000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if reflect.DeepEqual(first.Data.Salt, second.Data.Salt) {
		t.Fatalf("expected independently generated salts to differ")
	}
}

// TestEndToEndScenario mirrors a full issue-then-validate lifecycle: an
// unrestricted, short-lived multi-feature license is valid immediately,
// still valid after time moves within its window, expired once past it,
// and a copy whose data is mutated after validation is rejected with
// InvalidSignature (each Validate call re-derives trust from the
// signature, not from caller-held state).
func TestEndToEndScenario(t *testing.T) {
	pub, priv := GenerateKeypair()
	sl, unknown, err := Issue(priv, IssueConfig{
		Customer: "acme", Alias: "trial", Constraint: AnyMachine(),
		Days: 1, Features: []string{"quiz", "survey"},
	}, clock.Fixed(100000))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("unexpected unknown features: %v", unknown)
	}

	v := NewValidator(pub)
	if err := v.WithClock(clock.Fixed(100000)).Validate(sl); err != nil {
		t.Fatalf("expected valid immediately after issuance, got %v", err)
	}

	oneDayLater := clock.Fixed(100000 + secondsPerDay - 1)
	if err := v.WithClock(oneDayLater).Validate(sl); err != nil {
		t.Fatalf("expected valid just before expiry, got %v", err)
	}

	twoDaysLater := clock.Fixed(100000 + 2*secondsPerDay)
	err = v.WithClock(twoDaysLater).Validate(sl)
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != Expired {
		t.Fatalf("expected Expired two days later, got %v", err)
	}

	mutated := sl
	mutated.Data.Customer = "someone-else"
	err = v.WithClock(clock.Fixed(100000)).Validate(mutated)
	if !errors.As(err, &lerr) || lerr.Kind != InvalidSignature {
		t.Fatalf("expected InvalidSignature after mutating customer, got %v", err)
	}
}
