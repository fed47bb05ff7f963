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

//go:build !windows

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsyncFallback retries a failed directory fsync via the raw syscall.
// (*os.File).Sync on some platforms/filesystems surfaces ENOTSUP or
// EINVAL for directory file descriptors even though fsync(2) itself
// would succeed; calling unix.Fsync directly on the fd sidesteps that.
func fsyncFallback(d *os.File, firstErr error) error {
	if err := unix.Fsync(int(d.Fd())); err != nil {
		return firstErr
	}
	return nil
}
