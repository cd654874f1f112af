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
	"fmt"
	"os"
	"time"
)

// debugEnabled controls whether debug-level logging reaches the console.
// This can be controlled via environment variables or SetDebugEnabled.
var debugEnabled = false

func init() {
	// Enable debug logging if the PN53X_DEBUG or DEBUG environment variable
	// is set. PN53X_DEBUG takes the name of this driver rather than the
	// upstream chip family so it doesn't collide with an application's own
	// PN532_DEBUG toggle when both are loaded.
	if os.Getenv("PN53X_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// logLine writes a single formatted line to the session log (if one is
// open) with a timestamp and level tag, then echoes it to the console when
// level is "DEBUG" and debug logging is enabled, or unconditionally
// otherwise. Debugf/Debugln/warnf all funnel through here so the two
// destinations never drift out of sync.
func logLine(level, message string) {
	if sessionLogWriter != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s %s: %s\n", timestamp, level, message)
	}
	if level != "DEBUG" || debugEnabled {
		_, _ = fmt.Printf("%s: %s\n", level, message)
	}
}

// Debugf logs a formatted debug message. Always written to the session log
// file (if initialized); only echoed to the console when debug mode is on.
func Debugf(format string, args ...any) {
	logLine("DEBUG", fmt.Sprintf(format, args...))
}

// Debugln logs a debug message built the way fmt.Sprint joins its
// arguments. Always written to the session log file (if initialized); only
// echoed to the console when debug mode is on.
func Debugln(args ...any) {
	logLine("DEBUG", fmt.Sprint(args...))
}

// debugf and debugln are the package-internal spellings Debugf/Debugln are
// called by throughout the driver, kept unexported so call sites read like
// ordinary log statements rather than public API calls.
func debugf(format string, args ...any) {
	Debugf(format, args...)
}

func debugln(args ...any) {
	Debugln(args...)
}

// warnf logs a formatted warning: unlike debug output it always reaches the
// console, since it flags a condition (a clone device quirk, a masked
// status code with no known meaning) worth surfacing regardless of debug
// mode.
func warnf(format string, args ...any) {
	logLine("WARN", fmt.Sprintf(format, args...))
}

// SetDebugEnabled allows programmatic control of debug logging.
// Useful for testing or application-controlled debug modes.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
