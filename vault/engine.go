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

// Package vault provides authenticated encryption with two key
// domains (Local and Fleet), HKDF-SHA256 key derivation, a versioned
// binary payload framing, and optional pre-encryption compression.
//
// A payload produced by Seal has the layout:
//
//	byte 0        version (always 1)
//	byte 1        flags (bit 0: compressed; other bits reserved)
//	bytes 2..14   96-bit nonce, freshly drawn per seal
//	bytes 14..N-16 ciphertext
//	last 16 bytes authentication tag
//
// The domain used to seal a payload is never recorded in the payload
// itself: the caller must supply the same Domain to Unseal. This is
// deliberate — carrying the domain on the wire would let an attacker
// submit a Fleet-issued blob to a Local-context parser and have it
// silently succeed against the wrong trust boundary.
//
// Compressing before encrypting exposes a length side channel; the
// compression default is per-Vault and must be disabled by callers
// handling attacker-controlled plaintext.
package vault

import (
	"crypto/cipher"
	"log"

	"github.com/musterhub/corehub/ints"
)

type vaultState struct {
	localCipher cipher.AEAD
	fleetCipher cipher.AEAD
	compression bool
	logger      *log.Logger
}

// Vault is a cheap, shareable handle over two AEAD ciphers. Copying a
// Vault value copies only a pointer; it never deep-copies key material.
type Vault struct {
	inner *vaultState
}

// String never discloses key material; it exists so that accidentally
// logging a Vault value never leaks cipher state.
func (Vault) String() string { return "vault.Vault{redacted}" }

func (v Vault) cipherFor(domain Domain) cipher.AEAD {
	if domain == Fleet {
		return v.inner.fleetCipher
	}
	return v.inner.localCipher
}

// freshNonce draws a 96-bit nonce from the system CSPRNG. Per the
// package's threat model, a CSPRNG failure is never tolerated as a
// reason to fall back to a weaker source or reuse a nonce: the process
// aborts instead.
func freshNonce() []byte {
	nonce := make([]byte, nonceLen)
	if err := ints.RandomFillSlice(nonce); err != nil {
		panic("vault: system CSPRNG failed while drawing a nonce: " + err.Error())
	}
	return nonce
}

// SealBytes encrypts plaintext under the selected domain's key, using
// aad as associated data bound into the authentication tag. If the
// Vault's compression default is enabled, plaintext is compressed
// first and the compressed flag bit is set.
func (v Vault) SealBytes(domain Domain, plaintext, aad []byte) (ProtectedPayload, error) {
	var flags byte
	data := plaintext
	if v.inner.compression {
		compressed, err := compressPrependSize(plaintext)
		if err != nil {
			return nil, newError(Encryption, "compressing plaintext", err)
		}
		data = compressed
		flags |= flagCompressed
	}

	nonce := freshNonce()
	aead := v.cipherFor(domain)
	sealed := aead.Seal(nil, nonce, data, aad)

	out := make([]byte, 0, headerLen+nonceLen+len(sealed))
	out = append(out, payloadVersionV1, flags)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return ProtectedPayload(out), nil
}

// UnsealBytes reverses SealBytes. domain and aad must exactly match
// the values used to produce payload, or unsealing fails with
// Decryption; the failure reason (wrong key, wrong aad, or tampering)
// is never distinguished in the returned error.
func (v Vault) UnsealBytes(domain Domain, payload []byte, aad []byte) ([]byte, error) {
	if len(payload) < minPayloadLen {
		return nil, newError(InvalidPayload, "payload shorter than minimum frame size", nil)
	}
	if payload[0] != payloadVersionV1 {
		return nil, newError(InvalidPayload, "unrecognized payload version", nil)
	}
	flags := payload[1]
	if flags&^flagCompressed != 0 {
		return nil, newError(InvalidPayload, "reserved flag bit set", nil)
	}

	nonce := payload[headerLen : headerLen+nonceLen]
	sealed := payload[headerLen+nonceLen:]

	aead := v.cipherFor(domain)
	plain, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, newError(Decryption, "authentication failed", nil)
	}

	if flags&flagCompressed != 0 {
		plain, err = decompressPrependedSize(plain)
		if err != nil {
			return nil, newError(Decompression, "decompressing plaintext", err)
		}
	}
	return plain, nil
}

// SealTyped encodes value to the package's compact binary form and
// seals it under domain, using value's Tag as associated data.
func SealTyped[T Serde](v Vault, domain Domain, value T) (ProtectedPayload, error) {
	data, err := value.MarshalCompact()
	if err != nil {
		return nil, newError(Serialization, "encoding typed value", err)
	}
	return v.SealBytes(domain, data, []byte(value.Tag()))
}

// UnsealTyped unseals payload under domain and decodes it into a new
// T. PT must be a pointer to T implementing both Serde (to recover the
// associated-data tag) and CompactUnmarshaler.
func UnsealTyped[T any, PT interface {
	*T
	Serde
	CompactUnmarshaler
}](v Vault, domain Domain, payload []byte) (T, error) {
	var zero T
	tag := PT(&zero).Tag()
	plain, err := v.UnsealBytes(domain, payload, []byte(tag))
	if err != nil {
		return zero, err
	}
	if err := PT(&zero).UnmarshalCompact(plain); err != nil {
		return zero, newError(Serialization, "decoding typed value", err)
	}
	return zero, nil
}
