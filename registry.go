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

package pn53x

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/nfc-tools/go-pn53x/internal/syncutil"

	"github.com/nfc-tools/go-pn53x/detection"
)

// MaxConnStringLen bounds a connection string, matching libnfc's
// NFC_BUFSIZE_CONNSTRING.
const MaxConnStringLen = 1024

// ErrConnStringTooLong is returned when a connection string exceeds
// MaxConnStringLen.
var ErrConnStringTooLong = errors.New("connection string exceeds maximum length")

// ErrDriverNotFound is returned by Open when the connection string names a
// driver that has not been registered.
var ErrDriverNotFound = errors.New("driver not found")

// ErrEmptyRegistry is returned by ListDevices when no drivers have been
// registered (e.g. all transport packages were built out via build tags).
var ErrEmptyRegistry = errors.New("no transport drivers registered")

// Driver is an immutable per-transport descriptor, the Go realization of
// libnfc's driver trait: a name, a probe function that lists reachable
// connection strings, and an open function that turns one into a Transport.
type Driver struct {
	Name  string
	Probe func(ctx context.Context) ([]string, error)
	Open  func(connString string) (Transport, error)
}

// ConnString is a parsed "driver:transport_specific" connection string.
type ConnString struct {
	Driver string
	Params string
	raw    string
}

// ParseConnString splits a connection string into its driver prefix and
// transport-specific remainder. Strings without a ':' are treated as a bare
// path and matched against every registered driver's Probe results in Open.
func ParseConnString(s string) (ConnString, error) {
	if len(s) > MaxConnStringLen {
		return ConnString{}, fmt.Errorf("%w: %d bytes", ErrConnStringTooLong, len(s))
	}
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return ConnString{raw: s}, nil
	}
	return ConnString{Driver: s[:idx], Params: s[idx+1:], raw: s}, nil
}

// String returns the original connection string.
func (c ConnString) String() string { return c.raw }

// registry is the process-wide driver table, guarded like libnfc's
// nfc_context: one mutex, populated by RegisterDriver during package
// initialization of each transport package's init().
var registryMu syncutil.Mutex
var registry = map[string]Driver{}

// registryInstanceID identifies this process's registry for diagnostics;
// unused by protocol logic but exposed via RegistryInstanceID for the log
// sink (debug.go) to tag messages when multiple processes share a log file.
var registryInstanceID = uuid.New()

// RegisterDriver adds a driver to the process-wide registry. Transport
// packages call this from an init() function, mirroring the pattern already
// used by detection.RegisterDetector.
func RegisterDriver(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name] = d
}

// RegistryInstanceID returns a stable identifier for this process's driver
// registry, generated once at package load.
func RegistryInstanceID() uuid.UUID {
	return registryInstanceID
}

// registeredDrivers returns a snapshot of the registry, safe to range over
// without holding the lock.
func registeredDrivers() []Driver {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Driver, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	return out
}

// ListDevices probes every registered driver and returns the connection
// strings of reachable PN53x candidates, analogous to libnfc's
// nfc_list_devices.
func ListDevices(ctx context.Context) ([]string, error) {
	drivers := registeredDrivers()
	if len(drivers) == 0 {
		return nil, ErrEmptyRegistry
	}

	var found []string
	var errs []error
	for _, d := range drivers {
		paths, err := d.Probe(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		for _, p := range paths {
			found = append(found, d.Name+":"+p)
		}
	}
	if len(found) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return found, nil
}

// Open resolves a connection string to a Transport using the registered
// drivers, consulting the LIBNFC_DEFAULT_DEVICE environment variable when
// connString is empty, then wraps it into an initialized Device.
//
// This is the registry-driven counterpart to ConnectDevice: ConnectDevice
// keeps the teacher's manual-path/auto-detect option surface, while Open
// implements spec.md's driver-trait connection-string grammar directly.
func Open(ctx context.Context, connString string, opts ...Option) (*Device, error) {
	if connString == "" {
		connString = os.Getenv("LIBNFC_DEFAULT_DEVICE")
	}

	transport, err := openTransport(ctx, connString)
	if err != nil {
		return nil, err
	}

	device, err := New(transport, opts...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := device.InitContext(ctx); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	return device, nil
}

func openTransport(ctx context.Context, connString string) (Transport, error) {
	if connString == "" {
		return openFirstAvailable(ctx)
	}

	cs, err := ParseConnString(connString)
	if err != nil {
		return nil, err
	}
	if cs.Driver == "" {
		return openByPath(ctx, cs.raw)
	}

	registryMu.Lock()
	d, ok := registry[cs.Driver]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDriverNotFound, cs.Driver)
	}
	return d.Open(cs.Params)
}

// openByPath tries every registered driver's Open with the bare path,
// returning the first one that succeeds. Used for connection strings with
// no "driver:" prefix.
func openByPath(_ context.Context, path string) (Transport, error) {
	var lastErr error
	for _, d := range registeredDrivers() {
		t, err := d.Open(path)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrDeviceNotFound
	}
	return nil, lastErr
}

// openFirstAvailable probes every registered driver and opens the first
// reachable candidate, used when no connection string and no
// LIBNFC_DEFAULT_DEVICE are given.
func openFirstAvailable(ctx context.Context) (Transport, error) {
	for _, d := range registeredDrivers() {
		paths, err := d.Probe(ctx)
		if err != nil || len(paths) == 0 {
			continue
		}
		if t, err := d.Open(paths[0]); err == nil {
			return t, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// ProbeViaDetection adapts detection.DetectAll, filtered to a single
// transport, into the []string shape Driver.Probe expects. Shared by the
// uart/i2c/spi driver registrations added in each transport package's
// init().
func ProbeViaDetection(ctx context.Context, transportName string) ([]string, error) {
	opts := detection.DefaultOptions()
	opts.Transports = []string{transportName}
	devices, err := detection.DetectAllContext(ctx, &opts)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(devices))
	for _, dev := range devices {
		paths = append(paths, dev.Path)
	}
	return paths, nil
}
