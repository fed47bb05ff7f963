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
	"encoding/base64"
	"encoding/json"

	"github.com/musterhub/corehub/vault"
)

const (
	constraintTagAny       = 0
	constraintTagThreshold = 1
)

// encodeData produces the canonical compact-binary encoding of data.
// This is the exact byte sequence signed by Issue and re-verified by
// Validate; it reuses the vault package's compact writer rather than
// inventing a second length-prefixed codec for the same purpose.
func encodeData(data LicenseData) []byte {
	w := vault.NewWriter()
	w.PutString(data.Customer)
	w.PutString(data.Alias)
	if data.Constraint.Any {
		w.PutByte(constraintTagAny)
	} else {
		w.PutByte(constraintTagThreshold)
		w.PutUint32(uint32(len(data.Constraint.IDs)))
		for _, id := range data.Constraint.IDs {
			w.PutString(id)
		}
		w.PutUint16(data.Constraint.MinMatches)
	}
	w.PutUint32(uint32(data.Features))
	w.PutBytes(data.Salt)
	w.PutInt64(data.Issued)
	w.PutInt64(data.Expires)
	return w.Bytes()
}

func decodeData(buf []byte) (LicenseData, error) {
	r := vault.NewReader(buf)
	customer, err := r.String()
	if err != nil {
		return LicenseData{}, newError(CompactSerialize, "customer", err)
	}
	alias, err := r.String()
	if err != nil {
		return LicenseData{}, newError(CompactSerialize, "alias", err)
	}
	tag, err := r.Byte()
	if err != nil {
		return LicenseData{}, newError(CompactSerialize, "constraint tag", err)
	}
	var constraint MachineConstraint
	switch tag {
	case constraintTagAny:
		constraint = MachineConstraint{Any: true}
	case constraintTagThreshold:
		count, err := r.Uint32()
		if err != nil {
			return LicenseData{}, newError(CompactSerialize, "constraint id count", err)
		}
		ids := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			id, err := r.String()
			if err != nil {
				return LicenseData{}, newError(CompactSerialize, "constraint id", err)
			}
			ids = append(ids, id)
		}
		minMatches, err := r.Uint16()
		if err != nil {
			return LicenseData{}, newError(CompactSerialize, "min matches", err)
		}
		constraint = MachineConstraint{IDs: ids, MinMatches: minMatches}
	default:
		return LicenseData{}, newError(CompactSerialize, "unrecognized constraint tag", nil)
	}
	featureBits, err := r.Uint32()
	if err != nil {
		return LicenseData{}, newError(CompactSerialize, "features", err)
	}
	salt, err := r.Bytes()
	if err != nil {
		return LicenseData{}, newError(CompactSerialize, "salt", err)
	}
	issued, err := r.Int64()
	if err != nil {
		return LicenseData{}, newError(CompactSerialize, "issued", err)
	}
	expires, err := r.Int64()
	if err != nil {
		return LicenseData{}, newError(CompactSerialize, "expires", err)
	}
	return LicenseData{
		Customer:   customer,
		Alias:      alias,
		Constraint: constraint,
		Features:   FeatureSet(featureBits),
		Salt:       salt,
		Issued:     issued,
		Expires:    expires,
	}, nil
}

// EncodeBin returns the compact binary form of a SignedLicense: the
// canonical LicenseData encoding followed by the fixed-width 64-byte
// Ed25519 signature.
func EncodeBin(sl SignedLicense) ([]byte, error) {
	if len(sl.Signature) != ed25519.SignatureSize {
		return nil, newError(CompactSerialize, "signature has the wrong size", nil)
	}
	buf := encodeData(sl.Data)
	return append(buf, sl.Signature...), nil
}

// DecodeBin parses the form produced by EncodeBin.
func DecodeBin(buf []byte) (SignedLicense, error) {
	if len(buf) < ed25519.SignatureSize {
		return SignedLicense{}, newError(CompactSerialize, "truncated signed license", nil)
	}
	split := len(buf) - ed25519.SignatureSize
	data, err := decodeData(buf[:split])
	if err != nil {
		return SignedLicense{}, err
	}
	signature := make([]byte, ed25519.SignatureSize)
	copy(signature, buf[split:])
	return SignedLicense{Data: data, Signature: signature}, nil
}

// jsonConstraint mirrors MachineConstraint as a discriminated object,
// e.g. {"type":"any"} or {"type":"threshold","ids":[...],"minMatches":2}.
type jsonConstraint struct {
	Type       string   `json:"type"`
	IDs        []string `json:"ids,omitempty"`
	MinMatches uint16   `json:"minMatches,omitempty"`
}

// jsonLicenseData mirrors LicenseData with camelCase field names and
// unpadded base64 for the salt, matching the source's serde rename
// and bytes_as_base64 conventions.
type jsonLicenseData struct {
	Customer   string         `json:"customer"`
	Alias      string         `json:"alias"`
	Constraint jsonConstraint `json:"constraint"`
	Features   []string       `json:"features"`
	Salt       string         `json:"salt"`
	Issued     int64          `json:"issued"`
	Expires    int64          `json:"expires"`
}

type jsonSignedLicense struct {
	Data      jsonLicenseData `json:"data"`
	Signature string          `json:"signature"`
}

// ToJSON renders sl as the canonical JSON document used for manifests
// and audit logs.
func ToJSON(sl SignedLicense) ([]byte, error) {
	jc := jsonConstraint{Type: "any"}
	if !sl.Data.Constraint.Any {
		jc = jsonConstraint{Type: "threshold", IDs: sl.Data.Constraint.IDs, MinMatches: sl.Data.Constraint.MinMatches}
	}
	doc := jsonSignedLicense{
		Data: jsonLicenseData{
			Customer:   sl.Data.Customer,
			Alias:      sl.Data.Alias,
			Constraint: jc,
			Features:   sl.Data.Features.Slugs(),
			Salt:       base64.RawStdEncoding.EncodeToString(sl.Data.Salt),
			Issued:     sl.Data.Issued,
			Expires:    sl.Data.Expires,
		},
		Signature: base64.RawStdEncoding.EncodeToString(sl.Signature),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, newError(SerdeSerialize, "marshal", err)
	}
	return b, nil
}

// FromJSON parses the form produced by ToJSON.
func FromJSON(buf []byte) (SignedLicense, error) {
	var doc jsonSignedLicense
	if err := json.Unmarshal(buf, &doc); err != nil {
		return SignedLicense{}, newError(SerdeSerialize, "unmarshal", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(doc.Data.Salt)
	if err != nil {
		return SignedLicense{}, newError(SerdeSerialize, "salt is not valid base64", err)
	}
	signature, err := base64.RawStdEncoding.DecodeString(doc.Signature)
	if err != nil {
		return SignedLicense{}, newError(SerdeSerialize, "signature is not valid base64", err)
	}
	var constraint MachineConstraint
	switch doc.Data.Constraint.Type {
	case "any":
		constraint = MachineConstraint{Any: true}
	case "threshold":
		constraint = MachineConstraint{IDs: doc.Data.Constraint.IDs, MinMatches: doc.Data.Constraint.MinMatches}
	default:
		return SignedLicense{}, newError(SerdeSerialize, "unrecognized constraint type", nil)
	}
	features, _ := FeaturesFromSlugs(doc.Data.Features)
	return SignedLicense{
		Data: LicenseData{
			Customer:   doc.Data.Customer,
			Alias:      doc.Data.Alias,
			Constraint: constraint,
			Features:   features,
			Salt:       salt,
			Issued:     doc.Data.Issued,
			Expires:    doc.Data.Expires,
		},
		Signature: signature,
	}, nil
}
