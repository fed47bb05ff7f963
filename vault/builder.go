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

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"
	"log"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Builder assembles a Vault. The Go compiler cannot enforce the
// source's builder typestate (no Build call is possible before keys
// are supplied), so that obligation is enforced at Build time instead:
// calling Build before DeriveKeys returns InvalidConfiguration.
type Builder struct {
	ikm, salt, identity []byte
	algorithm           Algorithm
	compression         bool
	logger              *log.Logger
	haveKeys            bool
}

// NewBuilder returns a Builder defaulting to AES-256-GCM with
// compression disabled.
func NewBuilder() *Builder {
	return &Builder{
		algorithm: AES256GCM,
		logger:    log.Default(),
	}
}

// Algorithm selects the AEAD construction the built Vault will use.
func (b *Builder) Algorithm(a Algorithm) *Builder {
	b.algorithm = a
	return b
}

// Compression sets whether the built Vault compresses plaintext before
// encryption by default. See the package documentation for the
// length-side-channel warning this implies.
func (b *Builder) Compression(enabled bool) *Builder {
	b.compression = enabled
	return b
}

// Logger overrides the logger used for non-fatal diagnostics. The
// default writes to the standard logger.
func (b *Builder) Logger(l *log.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// DeriveKeys supplies the key material from which the Vault's two
// domain keys are derived via HKDF-SHA256: a single extract over
// (salt, ikm) followed by two independent expands, one per domain.
// identity additionally binds the Local key to a specific machine.
func (b *Builder) DeriveKeys(ikm, salt, identity []byte) *Builder {
	b.ikm = ikm
	b.salt = salt
	b.identity = identity
	b.haveKeys = true
	return b
}

// Build derives the two domain keys, constructs the selected AEAD
// cipher for each, wipes the derived key bytes, and returns the
// resulting Vault. The Builder retains no accessor to the key material
// after Build returns.
func (b *Builder) Build() (Vault, error) {
	if !b.haveKeys || len(b.ikm) == 0 {
		return Vault{}, newError(InvalidConfiguration, "missing key material: call DeriveKeys before Build", nil)
	}

	prk := hkdf.Extract(sha256.New, b.ikm, b.salt)
	defer zero(prk)

	fleetKey, err := expandKey(prk, []byte("v1_fleet:"))
	if err != nil {
		return Vault{}, newError(InvalidConfiguration, "deriving fleet key", err)
	}
	defer zero(fleetKey)

	localInfo := append([]byte("v1_local:"), b.identity...)
	localKey, err := expandKey(prk, localInfo)
	if err != nil {
		return Vault{}, newError(InvalidConfiguration, "deriving local key", err)
	}
	defer zero(localKey)

	fleetCipher, err := newAEAD(b.algorithm, fleetKey)
	if err != nil {
		return Vault{}, newError(InvalidConfiguration, "constructing fleet cipher", err)
	}
	localCipher, err := newAEAD(b.algorithm, localKey)
	if err != nil {
		return Vault{}, newError(InvalidConfiguration, "constructing local cipher", err)
	}

	return Vault{inner: &vaultState{
		localCipher: localCipher,
		fleetCipher: fleetCipher,
		compression: b.compression,
		logger:      b.logger,
	}}, nil
}

func expandKey(prk, info []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), key); err != nil {
		return nil, err
	}
	return key, nil
}

func newAEAD(algorithm Algorithm, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, newError(InvalidConfiguration, "unknown algorithm", nil)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
