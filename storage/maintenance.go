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
	"strings"
	"time"
)

// staleThreshold is how old a ".mhubtmp." file's mtime must be before
// purgeTmp considers it abandoned rather than in-flight.
const staleThreshold = 300 * time.Second

// purgeTmp walks root contents-first (children before their parent
// directory), removing stale temporary files and then any directory
// left empty as a result, other than root itself. Individual failures
// are counted and logged, never returned as a fatal error from the
// walk as a whole; err is non-nil only if ctx is already done or root
// itself cannot be read.
func purgeTmp(ctx context.Context, root string, logger *log.Logger) (removed, failed int, err error) {
	now := time.Now()
	err = purgeDir(ctx, root, root, now, logger, &removed, &failed)
	return removed, failed, err
}

func purgeDir(ctx context.Context, root, dir string, now time.Time, logger *log.Logger, removed, failed *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := purgeDir(ctx, root, full, now, logger, removed, failed); err != nil {
				*failed++
				logger.Printf("storage: purge_tmp: failed to walk subdirectory (non-fatal)")
			}
			continue
		}
		if !strings.Contains(entry.Name(), ".mhubtmp.") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			*failed++
			logger.Printf("storage: purge_tmp: failed to stat temporary file (non-fatal)")
			continue
		}
		if now.Sub(info.ModTime()) <= staleThreshold {
			continue
		}
		if err := os.Remove(full); err != nil {
			*failed++
			logger.Printf("storage: purge_tmp: failed to remove stale temporary file (non-fatal)")
		} else {
			*removed++
		}
	}

	if dir == root {
		return nil
	}
	remaining, err := os.ReadDir(dir)
	if err == nil && len(remaining) == 0 {
		_ = os.Remove(dir) // best-effort; a lingering race with a new write is not an error
	}
	return nil
}
