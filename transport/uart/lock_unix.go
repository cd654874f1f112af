//go:build !windows

// go-pn53x
// Copyright (c) 2025 The go-pn53x Authors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn53x.
//
// go-pn53x is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn53x is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn53x; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package uart

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// unixPortLock holds the lock file descriptor for the duration the port is
// open; the flock is released implicitly on process exit even if Unlock is
// never called, matching the C driver's original crash-safety property.
type unixPortLock struct {
	file *os.File
}

// acquirePortLock takes an exclusive, non-blocking flock on
// "<portName>.lock" next to the device node.
func acquirePortLock(portName string) (portLock, error) {
	f, err := os.OpenFile(portName+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrPortClaimed
		}
		return nil, fmt.Errorf("failed to lock port: %w", err)
	}

	return &unixPortLock{file: f}, nil
}

func (l *unixPortLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
