// SPDX-License-Identifier: MIT
package station

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/fault"
	applog "headset/internal/log"
	"headset/internal/sequencer"
	"headset/internal/transport"
)

// Publisher pushes typed messages to remote observers.
type Publisher interface {
	Publish(kind string, v any) error
}

// Controller executes station commands against one sequencer and publishes
// their results. It is safe for concurrent use; runs serialize inside the
// sequencer.
type Controller struct {
	seq      *sequencer.Sequencer
	presence *sequencer.Presence
	pub      Publisher
	bands    []analysis.FrequencyBand

	onFault   func(error)
	faultOnce sync.Once
}

// NewController wires a controller. pub may be nil.
func NewController(seq *sequencer.Sequencer, presence *sequencer.Presence, pub Publisher) *Controller {
	return &Controller{
		seq:      seq,
		presence: presence,
		pub:      pub,
		bands:    analysis.DefaultBands,
		onFault:  func(error) {},
	}
}

// OnFault registers fn to be called once with the first fault a command hits.
func (c *Controller) OnFault(fn func(error)) {
	c.onFault = fn
}

// RunTest runs t and reports it. The returned error is either a fault or a
// lookup error for t.
func (c *Controller) RunTest(t sequencer.TestType) (*Report, error) {
	res, curves, err := c.seq.Measure(t)
	if err != nil {
		return nil, c.check(err)
	}
	report := BuildReport(res, curves, c.seq.BinSpacing(), c.bands)
	c.publish("result", report.Result)
	for _, curve := range report.Curves {
		c.publish("curve", curve)
	}
	return report, nil
}

// PlayTone plays the debug tone on out.
func (c *Controller) PlayTone(out transport.Output) error {
	return c.check(c.seq.PlayTone(out))
}

// Levels returns the instantaneous microphone levels by channel name, with
// silent channels as null.
func (c *Controller) Levels() (map[string]*float64, bool) {
	levels, ok := c.seq.Levels()
	if !ok {
		return nil, false
	}
	out := make(map[string]*float64, block.NumMics)
	for _, ch := range block.Mics {
		out[ch.String()] = finite(levels[ch])
	}
	return out, true
}

func (c *Controller) publish(kind string, v any) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(kind, v); err != nil {
		applog.Debugf("Station: publish %s: %v", kind, err)
	}
}

// check forwards the first fault to the supervisor callback.
func (c *Controller) check(err error) error {
	if fault.IsFatal(err) {
		c.faultOnce.Do(func() { c.onFault(err) })
	}
	return err
}

type statusResponse struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type presenceRequest struct {
	HeadsetConnected *bool `json:"headset_connected"`
	IdentityReadable *bool `json:"identity_readable"`
}

type presenceResponse struct {
	HeadsetConnected bool `json:"headset_connected"`
	IdentityReadable bool `json:"identity_readable"`
}

// Handler returns the HTTP control surface:
//
//	GET  /status           sequencer state
//	POST /tests/{test}     run a test, respond with its report
//	POST /tone/{output}    play the debug tone
//	GET  /curves/{curve}   transfer function of the last run
//	GET  /levels           instantaneous microphone levels
//	GET  /presence         presence flags
//	PUT  /presence         set presence flags
func (c *Controller) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", c.handleStatus)
	mux.HandleFunc("POST /tests/{test}", c.handleRunTest)
	mux.HandleFunc("POST /tone/{output}", c.handleTone)
	mux.HandleFunc("GET /curves/{curve}", c.handleCurve)
	mux.HandleFunc("GET /levels", c.handleLevels)
	mux.HandleFunc("GET /presence", c.handlePresence)
	mux.HandleFunc("PUT /presence", c.handleSetPresence)
	return mux
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{State: c.seq.State().String()}
	if err := c.seq.Err(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) handleRunTest(w http.ResponseWriter, r *http.Request) {
	t, err := sequencer.ParseTestType(r.PathValue("test"))
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := c.RunTest(t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c *Controller) handleTone(w http.ResponseWriter, r *http.Request) {
	out, err := transport.ParseOutput(r.PathValue("output"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.PlayTone(out); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) handleCurve(w http.ResponseWriter, r *http.Request) {
	curve, err := analysis.ParseCurve(r.PathValue("curve"))
	if err != nil {
		writeError(w, err)
		return
	}
	tf, err := c.seq.TransferFunction(curve)
	if err != nil {
		writeError(w, c.check(err))
		return
	}
	writeJSON(w, http.StatusOK, tf)
}

func (c *Controller) handleLevels(w http.ResponseWriter, r *http.Request) {
	levels, ok := c.Levels()
	if !ok {
		http.Error(w, "levels not ready", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, levels)
}

func (c *Controller) handlePresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presenceResponse{
		HeadsetConnected: c.presence.HeadsetConnected(),
		IdentityReadable: c.presence.IdentityReadable(),
	})
}

func (c *Controller) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed presence request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.HeadsetConnected != nil {
		c.presence.SetHeadsetConnected(*req.HeadsetConnected)
	}
	if req.IdentityReadable != nil {
		c.presence.SetIdentityReadable(*req.IdentityReadable)
	}
	c.handlePresence(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Warnf("Station: encoding response: %v", err)
	}
}

// writeError maps engine errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case fault.IsFatal(err):
	case errors.Is(err, sequencer.ErrUnknownTest),
		errors.Is(err, analysis.ErrUnknownCurve),
		errors.Is(err, transport.ErrUnknownOutput):
		code = http.StatusNotFound
	case errors.Is(err, analysis.ErrNoMeasurement):
		code = http.StatusConflict
	}
	http.Error(w, err.Error(), code)
}
