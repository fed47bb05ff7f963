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

// Package storage provides a sandboxed filesystem abstraction: every
// logical path is resolved against a canonical root in a way that
// cannot escape the root even through "..", an absolute path, or a
// symlink; writes are atomic and fsynced; sharded layout keeps any one
// directory small; orphaned temporaries left behind by a crash or a
// cancelled write are swept up automatically.
package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

type storageState struct {
	root        string
	compression Compression
	shard       shardStrategy
	tmpCounter  atomic.Uint64
	logger      *log.Logger
}

// Storage is a cheap, shareable handle over a sandboxed root directory.
// Copying a Storage value copies only a pointer to shared state.
type Storage struct {
	inner *storageState
}

// String never discloses the canonical root, matching the policy that
// physical paths are never leaked outside local logs.
func (Storage) String() string { return "storage.Storage{redacted}" }

func (s Storage) nextTmpSuffix() uint64 {
	return s.inner.tmpCounter.Add(1)
}

func (s Storage) resolve(logical string) (string, error) {
	return resolveSharded(s.inner.root, "", logical, s.inner.shard)
}

func (s Storage) resolveNamespaced(namespace, logical string) (string, error) {
	return resolveSharded(s.inner.root, namespace, logical, s.inner.shard)
}

// Write stores bytes at path atomically: the data is written to a
// uniquely named temporary file alongside the target, fsynced, renamed
// into place, and the parent directory is fsynced best-effort. At any
// crash point either the previous content is intact or the new content
// is fully present; no partial or mixed value is ever observable by a
// reader.
func (s Storage) Write(ctx context.Context, path string, data []byte) error {
	return s.writeInternal(ctx, s.resolve, path, data)
}

func (s Storage) writeInternal(ctx context.Context, resolve func(string) (string, error), path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	physical, err := resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(physical), 0o750); err != nil {
		return newError(Io, "creating parent directories", err)
	}

	compressed, err := s.inner.compression.compress(data)
	if err != nil {
		return newError(Compress, "compressing content", err)
	}

	tmp := uniqueTmpPath(physical, s.nextTmpSuffix())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return newError(Io, "creating temporary file", err)
	}
	if _, err := f.Write(compressed); err != nil {
		f.Close()
		os.Remove(tmp)
		return newError(Io, "writing temporary file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return newError(Io, "fsyncing temporary file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return newError(Io, "closing temporary file", err)
	}

	if err := os.Rename(tmp, physical); err != nil {
		// the platform may reject an overwrite rename; remove the
		// target and retry once before giving up.
		if os.Remove(physical) == nil {
			err = os.Rename(tmp, physical)
		}
		if err != nil {
			os.Remove(tmp)
			return newError(Io, "renaming temporary file into place", err)
		}
	}

	if err := syncDir(filepath.Dir(physical)); err != nil {
		s.inner.logger.Printf("storage: fsync parent directory failed (non-fatal): %v", err)
	}
	return nil
}

func uniqueTmpPath(target string, counter uint64) string {
	dir, file := filepath.Split(target)
	return filepath.Join(dir, fmt.Sprintf("%s.mhubtmp.%d", file, counter))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fsyncFallback(d, err)
	}
	return nil
}

// Read resolves path and returns its content, decompressing it first
// if the engine's compression mode requires it.
func (s Storage) Read(ctx context.Context, path string) ([]byte, error) {
	return s.readInternal(ctx, s.resolve, path)
}

func (s Storage) readInternal(ctx context.Context, resolve func(string) (string, error), path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	physical, err := resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(physical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(FileNotFound, "file does not exist", nil)
		}
		return nil, newError(Io, "reading file", err)
	}
	plain, err := s.inner.compression.decompress(raw)
	if err != nil {
		return nil, newError(Decompress, "decompressing content", err)
	}
	return plain, nil
}

// Delete resolves path and removes it. A missing file is reported as
// FileNotFound, distinct from other I/O failures.
func (s Storage) Delete(ctx context.Context, path string) error {
	return s.deleteInternal(ctx, s.resolve, path)
}

func (s Storage) deleteInternal(ctx context.Context, resolve func(string) (string, error), path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	physical, err := resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(physical); err != nil {
		if os.IsNotExist(err) {
			return newError(FileNotFound, "file does not exist", nil)
		}
		return newError(Io, "removing file", err)
	}
	return nil
}

// Exists resolves path and reports whether it is present. A sandbox
// violation still propagates as an error rather than being reported as
// "does not exist".
func (s Storage) Exists(ctx context.Context, path string) (bool, error) {
	return s.existsInternal(ctx, s.resolve, path)
}

func (s Storage) existsInternal(ctx context.Context, resolve func(string) (string, error), path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	physical, err := resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(physical); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, newError(Io, "statting file", err)
	}
	return true, nil
}

// Metadata describes the on-disk state of a stored file. If the
// engine's compression mode is enabled, Size and ContentHash describe
// the compressed bytes, not the logical decompressed content.
type Metadata struct {
	fs.FileInfo
	// ContentHash is the hex-encoded BLAKE2b-256 digest of the bytes
	// on disk, a cheap integrity fingerprint callers can compare
	// across replicas without transferring the full content.
	ContentHash string
}

// Metadata returns the raw on-disk metadata and content hash for path.
func (s Storage) Metadata(ctx context.Context, path string) (Metadata, error) {
	return s.metadataInternal(ctx, s.resolve, path)
}

func (s Storage) metadataInternal(ctx context.Context, resolve func(string) (string, error), path string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	physical, err := resolve(path)
	if err != nil {
		return Metadata{}, err
	}
	info, err := os.Stat(physical)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, newError(FileNotFound, "file does not exist", nil)
		}
		return Metadata{}, newError(Io, "statting file", err)
	}
	raw, err := os.ReadFile(physical)
	if err != nil {
		return Metadata{}, newError(Io, "reading file for content hash", err)
	}
	sum := blake2b.Sum256(raw)
	return Metadata{FileInfo: info, ContentHash: hex.EncodeToString(sum[:])}, nil
}

// PurgeTmp scans the root recursively, removing stale temporary files
// (name contains ".mhubtmp." and mtime older than the staleness
// window) and any directories left empty as a result. Cleanup failures
// are logged and counted, never returned as a fatal error.
func (s Storage) PurgeTmp(ctx context.Context) (removed, failed int, err error) {
	return purgeTmp(ctx, s.inner.root, s.inner.logger)
}

// Close is a no-op provided for symmetry with EventBus.Shutdown: a
// Storage handle owns no durable resource that must be released
// explicitly, since all of its state is either immutable (the root) or
// already persisted to disk (every write).
func (s Storage) Close() error { return nil }
