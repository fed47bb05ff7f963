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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) Storage {
	t.Helper()
	s, err := NewBuilder().Root(t.TempDir()).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func TestWriteReadRoundtrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.Write(ctx, "a/b.bin", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "a/b.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q, want %q", got, "v1")
	}
	ok, err := s.Exists(ctx, "a/b.bin")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
}

func TestWriteOverwriteLeavesNoTmpFiles(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.Write(ctx, "a/b.bin", []byte("v1")); err != nil {
		t.Fatalf("Write v1: %v", err)
	}
	if err := s.Write(ctx, "a/b.bin", []byte("v2")); err != nil {
		t.Fatalf("Write v2: %v", err)
	}
	got, err := s.Read(ctx, "a/b.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("got %q, want %q", got, "v2")
	}
	var tmpFound []string
	filepath.WalkDir(s.inner.root, func(path string, d os.DirEntry, err error) error {
		if err == nil && strings.Contains(d.Name(), ".mhubtmp.") {
			tmpFound = append(tmpFound, path)
		}
		return nil
	})
	if len(tmpFound) != 0 {
		t.Fatalf("leftover tmp files: %v", tmpFound)
	}
}

func TestReadMissingFileIsFileNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Read(context.Background(), "nope.bin")
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != FileNotFound {
		t.Fatalf("expected FileNotFound, got %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	cases := []string{"../etc/passwd", "foo/../../bar", "/abs"}
	for _, c := range cases {
		_, err := s.Read(ctx, c)
		var serr *Error
		if !errors.As(err, &serr) || serr.Kind != PathTraversalAttempt {
			t.Fatalf("path %q: expected PathTraversalAttempt, got %v", c, err)
		}
	}
}

func TestShardedResolution(t *testing.T) {
	s := newTestStorage(t)
	ns, err := s.Namespace("user_001")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}
	physical, err := ns.resolve("photo.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasSuffix(physical, "/ph/ot/photo.png") {
		t.Fatalf("physical path %q missing expected shard suffix", physical)
	}
	if !strings.Contains(physical, "/user_001/") {
		t.Fatalf("physical path %q missing namespace prefix", physical)
	}
}

func TestShardingWithDotInFilename(t *testing.T) {
	s := newTestStorage(t)
	physical, err := s.resolve("photos/cat.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasSuffix(physical, "/photos/ca/t./cat.png") {
		t.Fatalf("physical path %q missing expected shard suffix", physical)
	}
}

func TestNamespaceValidation(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Namespace("User!"); err == nil {
		t.Fatal("expected error for invalid namespace")
	}
	ns, err := s.Namespace("User_1")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}
	if ns.Namespace() != "user_1" {
		t.Fatalf("got %q, want lowercased %q", ns.Namespace(), "user_1")
	}
}

func TestPurgeTmpRemovesStaleFiles(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "foo.mhubtmp.42")
	if err := os.WriteFile(stale, []byte("x"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	old := time.Now().Add(-400 * time.Second)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	fresh := filepath.Join(root, "bar.mhubtmp.1")
	if err := os.WriteFile(fresh, []byte("y"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := NewBuilder().Root(root).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale tmp file to be removed at startup, stat err=%v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh tmp file to survive startup purge: %v", err)
	}
	_ = s
}

func TestConcurrentWritesNeverYieldPartialContent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	b0 := bytes.Repeat([]byte{0x00}, 1024)
	b1 := bytes.Repeat([]byte{0xFF}, 1024)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			var b []byte
			if i%2 == 0 {
				b = b0
			} else {
				b = b1
			}
			if err := s.Write(ctx, "race.bin", b); err != nil {
				t.Errorf("Write: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		got, err := s.Read(ctx, "race.bin")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			var serr *Error
			if errors.As(err, &serr) && serr.Kind == FileNotFound {
				continue
			}
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, b0) && !bytes.Equal(got, b1) {
			t.Fatalf("observed partial/mixed content of length %d", len(got))
		}
	}
	<-done
}

func TestMetadataReportsContentHash(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.Write(ctx, "hashed.bin", []byte("same content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	m1, err := s.Metadata(ctx, "hashed.bin")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if m1.ContentHash == "" {
		t.Fatalf("expected a non-empty content hash")
	}
	if m1.Size() == 0 {
		t.Fatalf("expected a non-zero size")
	}

	if err := s.Write(ctx, "hashed2.bin", []byte("same content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	m2, err := s.Metadata(ctx, "hashed2.bin")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if m1.ContentHash != m2.ContentHash {
		t.Fatalf("expected identical content to hash identically: %q vs %q", m1.ContentHash, m2.ContentHash)
	}

	if err := s.Write(ctx, "hashed.bin", []byte("different content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	m3, err := s.Metadata(ctx, "hashed.bin")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if m1.ContentHash == m3.ContentHash {
		t.Fatalf("expected different content to hash differently")
	}
}
