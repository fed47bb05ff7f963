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
	"os"
	"path/filepath"
	"strings"

	"github.com/dchest/siphash"
)

// normalizeRelative lexically collapses "." and ".." components of a
// slash-separated relative path without touching the filesystem. A
// ".." that would pop above the (empty) base, or any absolute/drive
// component, is a path traversal attempt.
func normalizeRelative(logical string) (string, error) {
	if logical == "" {
		return "", nil
	}
	if strings.HasPrefix(logical, "/") || filepath.IsAbs(logical) {
		return "", newError(PathTraversalAttempt, "absolute path rejected", nil)
	}
	parts := strings.Split(filepath.ToSlash(logical), "/")
	stack := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			// drop
		case "..":
			if len(stack) == 0 {
				return "", newError(PathTraversalAttempt, "path escapes sandbox root", nil)
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, p)
		}
	}
	return filepath.Join(stack...), nil
}

// resolvePath maps a logical path onto a physical path rooted at root,
// rejecting anything that would resolve outside root even via a
// symlink. root must already be canonical (as produced by
// filepath.EvalSymlinks at builder time).
func resolvePath(root, logical string) (string, error) {
	normalized, err := normalizeRelative(logical)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(root, normalized)

	if _, err := os.Lstat(joined); err == nil {
		canon, err := filepath.EvalSymlinks(joined)
		if err != nil {
			return "", newError(PathTraversalAttempt, "failed to canonicalize existing path", nil)
		}
		if !withinRoot(root, canon) {
			return "", newError(PathTraversalAttempt, "resolved path escapes sandbox root", nil)
		}
		return joined, nil
	}

	ancestor := filepath.Dir(joined)
	for {
		info, err := os.Lstat(ancestor)
		if err == nil {
			if !info.IsDir() {
				return "", newError(PathTraversalAttempt, "ancestor is not a directory", nil)
			}
			canon, err := filepath.EvalSymlinks(ancestor)
			if err != nil {
				return "", newError(PathTraversalAttempt, "failed to canonicalize ancestor", nil)
			}
			if !withinRoot(root, canon) {
				return "", newError(PathTraversalAttempt, "resolved path escapes sandbox root", nil)
			}
			return joined, nil
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			// reached filesystem root without finding root itself;
			// root must not exist, which is a configuration error
			// rather than a traversal attempt, but we still refuse.
			return "", newError(PathTraversalAttempt, "sandbox root not found while walking ancestors", nil)
		}
		ancestor = parent
	}
}

func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// shardStrategy selects how resolveSharded derives the two shard
// directory components from a filename.
type shardStrategy int

const (
	// shardPrefix is the default: the filename's own first four
	// characters, split into two pairs.
	shardPrefix shardStrategy = iota
	// shardSipHash buckets filenames by a keyed SipHash instead of
	// their own prefix, useful when filenames are not content-addressed
	// and would otherwise cluster unevenly (e.g. sequential ids).
	shardSipHash
)

const siphashShardKey0, siphashShardKey1 = 0x636f726568756221, 0x7368617264696e67

func shardComponents(strategy shardStrategy, filename string) (s1, s2 string, sharded bool) {
	switch strategy {
	case shardSipHash:
		sum := siphash.Hash(siphashShardKey0, siphashShardKey1, []byte(filename))
		hex := "0123456789abcdef"
		b := [4]byte{
			hex[(sum>>4)&0xf], hex[sum&0xf],
			hex[(sum>>12)&0xf], hex[(sum>>8)&0xf],
		}
		return string(b[0:2]), string(b[2:4]), true
	default:
		if len(filename) < 4 {
			return "", "", false
		}
		return filename[0:2], filename[2:4], true
	}
}

// resolveSharded builds the sharded physical path for a logical path
// under an optional namespace, then delegates to resolvePath.
func resolveSharded(root, namespace, logical string, strategy shardStrategy) (string, error) {
	filename := filepath.Base(filepath.ToSlash(logical))
	if filename == "" || filename == "." || filename == "/" {
		return "", newError(PathTraversalAttempt, "logical path has no filename component", nil)
	}
	dir := filepath.Dir(filepath.ToSlash(logical))
	if dir == "." {
		dir = ""
	}

	shard := filename
	if s1, s2, ok := shardComponents(strategy, filename); ok {
		shard = filepath.Join(s1, s2, filename)
	}
	full := filepath.Join(dir, shard)
	if namespace != "" {
		full = filepath.Join(namespace, full)
	}
	return resolvePath(root, full)
}
