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

package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfc-tools/go-pn53x"
)

// DeviceCallbacks defines callback functions for device events
type DeviceCallbacks struct {
	OnCardDetected func(tag *pn53x.DetectedTag) error
	OnCardRemoved  func()
	OnCardChanged  func(tag *pn53x.DetectedTag) error
}

// DeviceMetrics tracks operational metrics for DeviceActor
type DeviceMetrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of polling errors
	CardsDetected   int64         // Number of cards detected
	CallbackErrors  int64         // Number of callback errors
	LastPollLatency time.Duration // Duration of last polling operation
}

// DeviceActor minimal implementation to make the test pass
type DeviceActor struct {
	device    *pn53x.Device
	config    *Config
	callbacks DeviceCallbacks
	ctx       context.Context
	stopChan  chan struct{}
	wg        sync.WaitGroup // Tracks polling goroutine lifecycle
	// Atomic counters for metrics
	pollCycles      int64
	cardsDetected   int64
	pollErrors      int64
	lastPollLatency int64 // in nanoseconds
	// Adaptive polling state
	currentInterval   int64 // Current polling interval in nanoseconds
	lastCardDetection int64 // Timestamp of last card detection
	// Running state to prevent multiple goroutines
	running int64 // 0 = stopped, 1 = running
}

// NewDeviceActor creates a new device actor (minimal implementation to pass test)
func NewDeviceActor(device *pn53x.Device, config *Config, callbacks DeviceCallbacks) *DeviceActor {
	now := time.Now().UnixNano()
	return &DeviceActor{
		device:            device,
		config:            config,
		callbacks:         callbacks,
		ctx:               context.Background(),
		stopChan:          make(chan struct{}, 1), // Buffered to prevent deadlock in Stop()
		currentInterval:   config.PollInterval.Nanoseconds(),
		lastCardDetection: now,
	}
}

// Start begins continuous polling, using ctx to bound each poll cycle's
// InitiatorListPassiveTargets call; cancelling ctx aborts an in-flight poll
// the same way Stop aborts the loop between cycles.
func (da *DeviceActor) Start(ctx context.Context) error {
	da.ctx = ctx
	// Only start if not already running
	if atomic.CompareAndSwapInt64(&da.running, 0, 1) {
		// Track goroutine for clean shutdown
		da.wg.Add(1)
		// Start continuous polling in a goroutine
		go da.pollLoop()
	}
	return nil
}

// pollLoop runs continuous polling until stopped
func (da *DeviceActor) pollLoop() {
	defer da.wg.Done() // Signal goroutine completion
	ticker := time.NewTicker(da.config.PollInterval)
	defer func() {
		ticker.Stop()
		// Mark as not running when goroutine exits
		atomic.StoreInt64(&da.running, 0)
	}()

	// Perform immediate poll before entering ticker loop for responsive startup
	da.performPoll()

	for {
		select {
		case <-ticker.C:
			da.performPoll()

			// Adaptive polling: adjust interval based on card presence
			da.adjustPollInterval()

			// Update ticker with new interval
			newInterval := time.Duration(atomic.LoadInt64(&da.currentInterval))
			ticker.Reset(newInterval)
		case <-da.stopChan:
			return
		}
	}
}

// performPoll executes a single polling cycle
func (da *DeviceActor) performPoll() {
	if da.device == nil || da.callbacks.OnCardDetected == nil {
		return
	}

	start := time.Now()
	detectedTags, err := da.device.InitiatorListPassiveTargets(da.ctx, 1, pn53x.TagTypeAny, nil)
	pollDuration := time.Since(start)

	// Track poll cycle
	atomic.AddInt64(&da.pollCycles, 1)
	atomic.StoreInt64(&da.lastPollLatency, pollDuration.Nanoseconds())

	if err != nil {
		// Track poll error
		atomic.AddInt64(&da.pollErrors, 1)
	}

	if err == nil && len(detectedTags) > 0 {
		// Track card detected and update timestamp
		atomic.AddInt64(&da.cardsDetected, 1)
		atomic.StoreInt64(&da.lastCardDetection, start.UnixNano())
		_ = da.callbacks.OnCardDetected(detectedTags[0])
	}
}

// adjustPollInterval implements adaptive polling logic
func (da *DeviceActor) adjustPollInterval() {
	now := time.Now().UnixNano()
	lastDetection := atomic.LoadInt64(&da.lastCardDetection)
	timeSinceLastCard := time.Duration(now - lastDetection)

	// If no card detected for 5+ seconds, slow down polling
	if timeSinceLastCard > 5*time.Second {
		// Increase interval to 5x the original (up to 500ms max)
		slowInterval := da.config.PollInterval * 5
		if slowInterval > 500*time.Millisecond {
			slowInterval = 500 * time.Millisecond
		}
		atomic.StoreInt64(&da.currentInterval, slowInterval.Nanoseconds())
	} else {
		// Card detected recently, use normal speed
		atomic.StoreInt64(&da.currentInterval, da.config.PollInterval.Nanoseconds())
	}
}

// Stop stops the device actor and waits for the polling goroutine to exit
func (da *DeviceActor) Stop(_ context.Context) error {
	select {
	case da.stopChan <- struct{}{}:
		// Successfully signaled stop
	default:
		// Channel might be closed or goroutine already stopped
	}
	// Wait for polling goroutine to fully exit
	da.wg.Wait()
	return nil
}

// GetMetrics returns current operational metrics
func (da *DeviceActor) GetMetrics() DeviceMetrics {
	return DeviceMetrics{
		PollCycles:      atomic.LoadInt64(&da.pollCycles),
		PollErrors:      atomic.LoadInt64(&da.pollErrors),
		CardsDetected:   atomic.LoadInt64(&da.cardsDetected),
		LastPollLatency: time.Duration(atomic.LoadInt64(&da.lastPollLatency)),
	}
}

// GetCurrentPollInterval returns the current adaptive polling interval
func (da *DeviceActor) GetCurrentPollInterval() time.Duration {
	return time.Duration(atomic.LoadInt64(&da.currentInterval))
}
