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

package pn53x

import (
	"context"
	"strings"
	"testing"
	"time"

	testutil "github.com/nfc-tools/go-pn53x/internal/testing"
)

// TestWindowsSAMConfigurationNoACKFails tests that a no-ACK error during SAM
// configuration makes InitContext fail; SAM configuration is attempted once
func TestWindowsSAMConfigurationNoACKFails(t *testing.T) {
	t.Parallel()

	// Create a mock transport whose SAM configuration always fails
	transport := NewMockTransport()

	// Set up firmware version response
	transport.SetResponse(testutil.CmdGetFirmwareVersion, testutil.BuildFirmwareVersionResponse())

	// Make SAM configuration fail with no ACK error (simulating Windows issue)
	transport.SetError(testutil.CmdSAMConfiguration, NewNoACKError("waitAck", "COM6"))

	device, err := New(transport)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = device.InitContext(ctx)

	// The no-ACK error is not a clone-device quirk, so InitContext returns it
	if err == nil {
		t.Error("Expected InitContext to fail when SAM configuration gets no ACK")
	}

	// Verify the error message contains the expected text
	if err != nil && !strings.Contains(err.Error(), "SAM configuration failed") {
		t.Errorf("Expected 'SAM configuration failed' error, got: %v", err)
	}
}
