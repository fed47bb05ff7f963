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

// Package clock provides the wall-clock collaborator shared by the
// license validator and any other component that needs to observe
// the current time without binding directly to time.Now, so that
// tests can supply a fixed or advancing clock.
package clock

import "time"

// Clock reports the current time as seconds since the Unix epoch.
type Clock interface {
	Now() int64
}

// System is the Clock backed by the real wall clock.
type System struct{}

// Now returns time.Now().Unix().
func (System) Now() int64 { return time.Now().Unix() }

// Fixed is a Clock that always reports the same instant. It is used
// by tests that need deterministic expiry checks.
type Fixed int64

// Now returns the fixed instant.
func (f Fixed) Now() int64 { return int64(f) }
