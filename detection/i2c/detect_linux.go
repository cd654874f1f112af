// Copyright 2026 The go-pn53x Authors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package i2c

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/nfc-tools/go-pn53x"
	"github.com/nfc-tools/go-pn53x/detection"
	pn53xi2c "github.com/nfc-tools/go-pn53x/transport/i2c"
)

// detectLinux enumerates I2C buses through periph.io's registry (the same
// registry transport/i2c.New opens against) and probes the well-known PN532
// address on each one. Unlike a raw ioctl scan of every address on the bus,
// this only ever talks to 0x24, so it can't be mistaken for a bus-wide probe
// of unrelated I2C peripherals sharing the same bus.
func detectLinux(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	refs := i2creg.All()
	if len(refs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, ref := range refs {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		device, skip := probeBus(ctx, ref.Name, opts)
		if skip {
			continue
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// probeBus builds the DeviceInfo for a single I2C bus name, probing it at
// the default PN532 address unless Options.Mode is Passive.
func probeBus(ctx context.Context, busName string, opts *detection.Options) (detection.DeviceInfo, bool) {
	devicePath := fmt.Sprintf("%s:0x%02X", busName, DefaultPN532Address)
	if detection.IsPathIgnored(devicePath, opts.IgnorePaths) {
		return detection.DeviceInfo{}, true
	}

	device := detection.DeviceInfo{
		Transport:  "i2c",
		Path:       devicePath,
		Name:       fmt.Sprintf("I2C device at %s address 0x%02X", busName, DefaultPN532Address),
		Confidence: detection.Medium,
		Metadata: map[string]string{
			"bus":     busName,
			"address": fmt.Sprintf("0x%02X", DefaultPN532Address),
		},
	}

	if opts.Mode == detection.Passive {
		return device, false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	variant, confirmed := probeI2CDevice(probeCtx, busName, opts.Mode)
	cancel()

	if !confirmed {
		return detection.DeviceInfo{}, true
	}

	device.Confidence = detection.High
	if variant != pn53x.ChipUnknown {
		device.Metadata["chip"] = variant.String()
	}
	return device, false
}

// probeI2CDevice opens busName through transport/i2c and issues
// GetFirmwareVersion (Safe mode) or a full SAM-backed Init (Full mode) to
// confirm a PN53x chip answers, returning the reported chip variant.
func probeI2CDevice(ctx context.Context, busName string, mode detection.Mode) (pn53x.ChipVariant, bool) {
	transport, err := pn53xi2c.New(busName)
	if err != nil {
		return pn53x.ChipUnknown, false
	}
	defer func() { _ = transport.Close() }()

	device, err := pn53x.New(transport)
	if err != nil {
		return pn53x.ChipUnknown, false
	}

	switch mode {
	case detection.Safe:
		fw, err := device.GetFirmwareVersion(ctx)
		if err != nil {
			return pn53x.ChipUnknown, false
		}
		return fw.Variant, true

	case detection.Full:
		if err := device.InitContext(ctx); err != nil {
			return pn53x.ChipUnknown, false
		}
		fw, err := device.GetFirmwareVersion(ctx)
		if err != nil {
			return pn53x.ChipUnknown, true
		}
		return fw.Variant, true

	default:
		return pn53x.ChipUnknown, false
	}
}
