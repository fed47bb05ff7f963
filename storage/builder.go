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
	"context"
	"log"
	"os"
	"path/filepath"
)

// Builder assembles a Storage. As with vault.Builder, the Go compiler
// cannot enforce the source's typestate (no Connect call possible
// before a root is set); Connect instead returns a DirectoryNotFound
// error when no root was set.
type Builder struct {
	root        string
	createRoot  bool
	compression Compression
	shard       shardStrategy
	logger      *log.Logger
	haveRoot    bool
}

// NewBuilder returns a Builder with compression disabled and the
// spec-mandated prefix sharding strategy.
func NewBuilder() *Builder {
	return &Builder{
		compression: CompressionNone,
		shard:       shardPrefix,
		logger:      log.Default(),
	}
}

// Root sets the sandbox root directory.
func (b *Builder) Root(root string) *Builder {
	b.root = root
	b.haveRoot = true
	return b
}

// CreateRoot requests that the root directory be created (with all
// missing parents) during Connect if it does not already exist.
func (b *Builder) CreateRoot(create bool) *Builder {
	b.createRoot = create
	return b
}

// Compression sets the transparent compression mode applied to every
// write and read through this handle.
func (b *Builder) Compression(c Compression) *Builder {
	b.compression = c
	return b
}

// ShardBySipHash selects keyed-SipHash sharding instead of the default
// filename-prefix sharding. Use this when filenames are not
// content-addressed (e.g. sequential ids) and would otherwise cluster
// unevenly under the default scheme.
func (b *Builder) ShardBySipHash() *Builder {
	b.shard = shardSipHash
	return b
}

// Logger overrides the logger used for non-fatal diagnostics.
func (b *Builder) Logger(l *log.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// Connect finalizes the Builder: it optionally creates the root,
// canonicalizes it, and performs a startup sweep for stale temporary
// files before returning the Storage handle.
func (b *Builder) Connect(ctx context.Context) (Storage, error) {
	if !b.haveRoot || b.root == "" {
		return Storage{}, newError(DirectoryNotFound, "missing root: call Root before Connect", nil)
	}
	if b.createRoot {
		if err := os.MkdirAll(b.root, 0o750); err != nil {
			return Storage{}, newError(DirectoryNotFound, "creating root directory", err)
		}
	}
	canonical, err := filepath.EvalSymlinks(b.root)
	if err != nil {
		return Storage{}, newError(DirectoryNotFound, "canonicalizing root directory", err)
	}

	st := &storageState{
		root:        canonical,
		compression: b.compression,
		shard:       b.shard,
		logger:      b.logger,
	}
	s := Storage{inner: st}

	removed, failed, err := s.PurgeTmp(ctx)
	if err != nil {
		st.logger.Printf("storage: startup tmp purge failed (non-fatal): %v", err)
	} else if removed > 0 || failed > 0 {
		st.logger.Printf("storage: startup tmp purge removed=%d failed=%d", removed, failed)
	}
	return s, nil
}
