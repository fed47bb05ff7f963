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
	"encoding/binary"
	"fmt"

	"github.com/musterhub/corehub/compr"
)

// sizePrefixLen is the width of the original-size prefix written
// before the compressed bytes, mirroring the source's
// compress_prepend_size / decompress_size_prepended convention.
const sizePrefixLen = 8

var (
	compressor   = compr.Compression("s2")
	decompressor = compr.Decompression("s2")
)

// compressPrependSize compresses data with the s2 codec and prepends
// the original length so the exact-sized destination buffer needed by
// Decompress can be allocated without guessing.
func compressPrependSize(data []byte) ([]byte, error) {
	out := make([]byte, sizePrefixLen, sizePrefixLen+len(data))
	binary.LittleEndian.PutUint64(out, uint64(len(data)))
	return compressor.Compress(data, out), nil
}

func decompressPrependedSize(buf []byte) ([]byte, error) {
	if len(buf) < sizePrefixLen {
		return nil, fmt.Errorf("compressed payload shorter than size prefix")
	}
	origLen := binary.LittleEndian.Uint64(buf[:sizePrefixLen])
	if origLen == 0 {
		return []byte{}, nil
	}
	dst := make([]byte, origLen)
	if err := decompressor.Decompress(buf[sizePrefixLen:], dst); err != nil {
		return nil, err
	}
	return dst, nil
}
