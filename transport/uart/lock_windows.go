//go:build windows

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

	"golang.org/x/sys/windows"
)

// windowsPortLock holds the exclusive-open handle used purely as a lock;
// go.bug.st/serial opens its own handle for I/O, so this second handle
// exists only to make CreateFile's sharing-violation error visible to a
// second process the way it always was for the original driver's own port
// handle.
type windowsPortLock struct {
	handle windows.Handle
}

// acquirePortLock opens portName with zero sharing flags so a concurrent
// CreateFile from another process fails with ERROR_SHARING_VIOLATION.
func acquirePortLock(portName string) (portLock, error) {
	namePtr, err := windows.UTF16PtrFromString(portName)
	if err != nil {
		return nil, fmt.Errorf("invalid port name: %w", err)
	}

	handle, err := windows.CreateFile(
		namePtr,
		windows.GENERIC_READ,
		0, // no sharing: exclusive access
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_SHARING_VIOLATION) {
			return nil, ErrPortClaimed
		}
		return nil, fmt.Errorf("failed to lock port: %w", err)
	}

	return &windowsPortLock{handle: handle}, nil
}

func (l *windowsPortLock) Unlock() error {
	if l.handle == windows.InvalidHandle {
		return nil
	}
	return windows.CloseHandle(l.handle)
}
