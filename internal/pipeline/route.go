// SPDX-License-Identifier: MIT
package pipeline

import (
	"strings"

	"headset/internal/transport"
)

// Route is the set of playback outputs that receive the live reference block.
type Route uint8

const (
	// RouteMain plays on both earpiece loudspeakers.
	RouteMain = Route(1<<transport.SpeakerLeft | 1<<transport.SpeakerRight)
	// RouteCalibrator plays on both calibration loudspeakers.
	RouteCalibrator = Route(1<<transport.CalibratorLeft | 1<<transport.CalibratorRight)
)

// RouteTo returns a route playing on out alone, or an empty route for an
// unknown output.
func RouteTo(out transport.Output) Route {
	if !out.Valid() {
		return 0
	}
	return Route(1 << out)
}

// Has reports whether r plays on out.
func (r Route) Has(out transport.Output) bool {
	return out.Valid() && r&(1<<out) != 0
}

func (r Route) String() string {
	if r == 0 {
		return "none"
	}
	var names []string
	for out := transport.SpeakerLeft; out <= transport.CalibratorRight; out++ {
		if r.Has(out) {
			names = append(names, out.String())
		}
	}
	return strings.Join(names, "+")
}
