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
	"strings"
)

// validateNamespace lowercases name and rejects anything empty or
// outside [a-z0-9_], folded to PathTraversalAttempt per the policy
// that sandbox violations never disclose which check failed.
func validateNamespace(name string) (string, error) {
	lower := strings.ToLower(name)
	if lower == "" {
		return "", newError(PathTraversalAttempt, "empty namespace", nil)
	}
	for _, r := range lower {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return "", newError(PathTraversalAttempt, "namespace contains disallowed character", nil)
		}
	}
	return lower, nil
}

// Namespace validates name and returns a view that prefixes every
// operation with the namespace directory. name is lowercased; an
// invalid name returns PathTraversalAttempt.
func (s Storage) Namespace(name string) (*NamespacedStorage, error) {
	validated, err := validateNamespace(name)
	if err != nil {
		return nil, err
	}
	return &NamespacedStorage{storage: s, namespace: validated}, nil
}

// NamespacedStorage is a namespaced view over a Storage handle. It
// holds no independent state beyond the parent handle and the
// namespace string.
type NamespacedStorage struct {
	storage   Storage
	namespace string
}

// Namespace returns the validated, lowercased namespace this view was
// constructed with.
func (n *NamespacedStorage) Namespace() string { return n.namespace }

func (n *NamespacedStorage) resolve(logical string) (string, error) {
	return n.storage.resolveNamespaced(n.namespace, logical)
}

// Write mirrors Storage.Write, prefixed with this view's namespace.
func (n *NamespacedStorage) Write(ctx context.Context, path string, data []byte) error {
	return n.storage.writeInternal(ctx, n.resolve, path, data)
}

// Read mirrors Storage.Read, prefixed with this view's namespace.
func (n *NamespacedStorage) Read(ctx context.Context, path string) ([]byte, error) {
	return n.storage.readInternal(ctx, n.resolve, path)
}

// Delete mirrors Storage.Delete, prefixed with this view's namespace.
func (n *NamespacedStorage) Delete(ctx context.Context, path string) error {
	return n.storage.deleteInternal(ctx, n.resolve, path)
}

// Exists mirrors Storage.Exists, prefixed with this view's namespace.
func (n *NamespacedStorage) Exists(ctx context.Context, path string) (bool, error) {
	return n.storage.existsInternal(ctx, n.resolve, path)
}

// Metadata mirrors Storage.Metadata, prefixed with this view's namespace.
func (n *NamespacedStorage) Metadata(ctx context.Context, path string) (Metadata, error) {
	return n.storage.metadataInternal(ctx, n.resolve, path)
}
