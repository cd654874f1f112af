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

import "errors"

// ErrPortClaimed is returned by New when another process already holds the
// advisory lock on the port. This replaces the C driver's termios-flag
// sentinel with an OS-level lock file next to the device node, since Go
// gives multiple os.File handles to the same device no way to observe a
// sibling process's termios state.
var ErrPortClaimed = errors.New("uart: port already claimed by another process")

// portLock is the per-platform advisory lock handle acquired by New and
// released by Transport.Close.
type portLock interface {
	Unlock() error
}
