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

package vault

// SealLocal is a convenience wrapper around SealTyped that always uses
// the Local domain.
func SealLocal[T Serde](v Vault, value T) (ProtectedPayload, error) {
	return SealTyped(v, Local, value)
}

// SealFleet is a convenience wrapper around SealTyped that always uses
// the Fleet domain.
func SealFleet[T Serde](v Vault, value T) (ProtectedPayload, error) {
	return SealTyped(v, Fleet, value)
}

// Unseal is a convenience wrapper around UnsealTyped that always uses
// the Local domain, matching the common case where a value sealed by
// this same process is unsealed by this same process.
func Unseal[T any, PT interface {
	*T
	Serde
	CompactUnmarshaler
}](v Vault, payload []byte) (T, error) {
	return UnsealTyped[T, PT](v, Local, payload)
}
