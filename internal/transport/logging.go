// SPDX-License-Identifier: MIT
package transport

import (
	applog "headset/internal/log"
)

// LogStatus implements StatusSink by logging every transition, the stand-in
// for the station LED when no indicator hardware is attached.
type LogStatus struct{}

// NewLogStatus creates a new LogStatus instance.
func NewLogStatus() *LogStatus {
	applog.Debugf("Transport: using LogStatus")
	return &LogStatus{}
}

// Notify logs the new status.
func (*LogStatus) Notify(s Status) {
	switch s {
	case StatusFault:
		applog.Errorf("Status: %s", s)
	default:
		applog.Infof("Status: %s", s)
	}
}

var _ StatusSink = (*LogStatus)(nil)
