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

package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/musterhub/corehub/compr"
)

// Compression selects whether and how file contents are transparently
// compressed on write and decompressed on read. The compressed length
// is what Metadata reports, not the logical length.
type Compression int

const (
	// CompressionNone stores bytes exactly as written.
	CompressionNone Compression = iota
	// CompressionLZ4 uses a size-prepended s2 frame, the same codec
	// family the vault package uses for its own optional compression.
	CompressionLZ4
	// CompressionZstd uses a size-prepended zstd frame, trading faster
	// writes for LZ4 against better ratio for cold or rarely-read
	// namespaces.
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

const sizePrefixLen = 8

func (c Compression) compress(data []byte) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}
	codec := compr.Compression(codecName(c))
	if codec == nil {
		return nil, fmt.Errorf("storage: unknown compression codec for %s", c)
	}
	out := make([]byte, sizePrefixLen, sizePrefixLen+len(data))
	binary.LittleEndian.PutUint64(out, uint64(len(data)))
	return codec.Compress(data, out), nil
}

func (c Compression) decompress(data []byte) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}
	if len(data) < sizePrefixLen {
		return nil, fmt.Errorf("storage: compressed content shorter than size prefix")
	}
	origLen := binary.LittleEndian.Uint64(data[:sizePrefixLen])
	if origLen == 0 {
		return []byte{}, nil
	}
	codec := compr.Decompression(codecName(c))
	if codec == nil {
		return nil, fmt.Errorf("storage: unknown decompression codec for %s", c)
	}
	dst := make([]byte, origLen)
	if err := codec.Decompress(data[sizePrefixLen:], dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func codecName(c Compression) string {
	switch c {
	case CompressionZstd:
		return "zstd"
	default:
		return "s2"
	}
}
