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

import "testing"

func TestGenerateMachineIDIsStableAndPrefixed(t *testing.T) {
	id1, err := generateMachineID(machineA())
	if err != nil {
		t.Fatalf("generateMachineID: %v", err)
	}
	id2, err := generateMachineID(machineA())
	if err != nil {
		t.Fatalf("generateMachineID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected deterministic output for identical hardware, got %q vs %q", id1, id2)
	}
	if id1[:3] != compoundIDPrefix {
		t.Fatalf("expected prefix %q, got %q", compoundIDPrefix, id1)
	}
}

func TestParseMachineIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"v1:onlyonepart",
		"v1:a|b",
		"v2:a|b|c",
		"v1:a||c",
		"not-even-close",
	}
	for _, c := range cases {
		if _, err := parseMachineID(c); err == nil {
			t.Fatalf("expected parse error for %q", c)
		}
	}
}

func TestBestMatchSkipsMalformedEntries(t *testing.T) {
	id, err := generateMachineID(machineA())
	if err != nil {
		t.Fatalf("generateMachineID: %v", err)
	}
	parts, err := parseMachineID(id)
	if err != nil {
		t.Fatalf("parseMachineID: %v", err)
	}
	allowed := []string{"garbage", id}
	if got := bestMatch(parts, allowed); got != 3 {
		t.Fatalf("expected 3/3 match ignoring the malformed entry, got %d", got)
	}
}
