// SPDX-License-Identifier: MIT
package station

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/config"
	"headset/internal/fault"
	"headset/internal/sequencer"
	"headset/internal/transport"
	"headset/internal/transport/loopback"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timing.PrimingSeconds = 1
	cfg.Timing.MeasureSeconds = 1
	cfg.Timing.ToneSeconds = 1
	cfg.Volume.Default = 1
	return cfg
}

type recordedPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordedPublisher) Publish(kind string, v any) error {
	if _, err := json.Marshal(v); err != nil {
		return err
	}
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	p.mu.Unlock()
	return nil
}

type fixture struct {
	ctl      *Controller
	presence *sequencer.Presence
	pub      *recordedPublisher
	server   *httptest.Server
}

func newFixture(t *testing.T, capture transport.CaptureSource, loop *loopback.Loop, meter *analysis.LevelMeter) *fixture {
	t.Helper()
	cfg := testConfig()
	presence := sequencer.NewPresence(true, true)
	opts := sequencer.Options{
		Config:   cfg,
		Capture:  capture,
		Playback: loop,
		Presence: presence,
	}
	if meter != nil {
		opts.Levels = meter
	}
	seq, err := sequencer.New(opts)
	require.NoError(t, err)

	f := &fixture{presence: presence, pub: &recordedPublisher{}}
	f.ctl = NewController(seq, presence, f.pub)
	f.server = httptest.NewServer(f.ctl.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func newLoopFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	meter := analysis.NewLevelMeter()
	loop, err := loopback.New(loopback.Options{
		BlockSize: cfg.Audio.BlockSize,
		Paths:     loopback.DefaultPaths(cfg.Audio.DelaySamples),
		Meter:     meter,
	})
	require.NoError(t, err)
	return newFixture(t, loop, loop, meter)
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRunTestReportsAllCurves(t *testing.T) {
	f := newLoopFixture(t)

	report, err := f.ctl.RunTest(sequencer.Loopback)
	require.NoError(t, err)
	require.True(t, report.Result.OK())
	require.Len(t, report.Curves, analysis.NumCurves)

	means := map[string]float64{}
	for _, c := range report.Curves {
		for _, b := range c.Bands {
			if b.Name == "mid" {
				require.NotNil(t, b.MeanDB, c.Curve)
				means[c.Curve] = *b.MeanDB
			}
		}
	}
	// Earpiece speakers couple at 0.5 into the inner and 0.05 into the outer mics.
	assert.InDelta(t, -6.02, means["IEM_L"], 0.5)
	assert.InDelta(t, -6.02, means["IEM_R"], 0.5)
	assert.InDelta(t, -26.02, means["OEM_L"], 0.5)
	assert.InDelta(t, -26.02, means["OEM_R"], 0.5)

	assert.Equal(t, []string{"result", "curve", "curve", "curve", "curve"}, f.pub.kinds)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, report))
	assert.Contains(t, buf.String(), "test0:")
	assert.Contains(t, buf.String(), "IEM_R")
	assert.Contains(t, buf.String(), "mid 500-2000 Hz")
}

func TestConcurrentRunsReportTheirOwnCurves(t *testing.T) {
	f := newLoopFixture(t)

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for _, tt := range []sequencer.TestType{sequencer.Loopback, sequencer.Leak, sequencer.Speaker} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				report, err := f.ctl.RunTest(tt)
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, report.Curves, analysis.NumCurves)
				for _, c := range report.Curves {
					assert.Equal(t, report.Result.Windows, c.TransferFunction.Frames, "%s %s", report.Result.Name, c.Curve)
				}
			}()
		}
	}
	wg.Wait()
}

func TestHTTPRunAndQuery(t *testing.T) {
	f := newLoopFixture(t)

	resp, body := f.do(t, http.MethodPost, "/tests/2a", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var report struct {
		Result struct {
			Test     string `json:"test"`
			Outcomes []struct {
				Position string `json:"position"`
				Outcome  string `json:"outcome"`
			} `json:"outcomes"`
		} `json:"result"`
		Curves []struct {
			Curve string `json:"curve"`
		} `json:"curves"`
	}
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, "test2a", report.Result.Test)
	assert.Len(t, report.Result.Outcomes, 4)
	assert.Equal(t, "success", report.Result.Outcomes[0].Outcome)
	assert.Len(t, report.Curves, 4)

	resp, body = f.do(t, http.MethodGet, "/curves/oem_l", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tf struct {
		Curve  string     `json:"curve"`
		Frames int        `json:"frames"`
		DB     []*float64 `json:"db"`
	}
	require.NoError(t, json.Unmarshal(body, &tf))
	assert.Equal(t, "OEM_L", tf.Curve)
	assert.Len(t, tf.DB, testConfig().Audio.FFTSize/2)

	resp, body = f.do(t, http.MethodGet, "/levels", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var levels map[string]*float64
	require.NoError(t, json.Unmarshal(body, &levels))
	assert.Len(t, levels, block.NumMics)

	resp, body = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"state":"done"}`, string(body))
}

func TestHTTPGateAbort(t *testing.T) {
	f := newLoopFixture(t)

	resp, body := f.do(t, http.MethodPut, "/presence", `{"headset_connected": false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"headset_connected": false, "identity_readable": true}`, string(body))

	report, err := f.ctl.RunTest(sequencer.Speaker)
	require.NoError(t, err)
	assert.False(t, report.Result.OK())
	assert.Empty(t, report.Curves)

	resp, _ = f.do(t, http.MethodGet, "/curves/0", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHTTPLookupErrors(t *testing.T) {
	f := newLoopFixture(t)

	for _, tt := range []struct {
		method, path string
		code         int
	}{
		{http.MethodPost, "/tests/9", http.StatusNotFound},
		{http.MethodPost, "/tone/mic", http.StatusNotFound},
		{http.MethodGet, "/curves/7", http.StatusNotFound},
		{http.MethodGet, "/levels", http.StatusServiceUnavailable},
		{http.MethodPut, "/presence", http.StatusBadRequest},
		{http.MethodGet, "/tests/0", http.StatusMethodNotAllowed},
	} {
		t.Run(tt.method+tt.path, func(t *testing.T) {
			resp, _ := f.do(t, tt.method, tt.path, "{")
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestHTTPTone(t *testing.T) {
	f := newLoopFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/tone/cal_r", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// overflowing reports a backlog on every microphone.
type overflowing struct{ transport.CaptureSource }

func (overflowing) Pending(block.Channel) int { return 3 }

func TestFaultReachesSupervisorOnce(t *testing.T) {
	cfg := testConfig()
	loop, err := loopback.New(loopback.Options{BlockSize: cfg.Audio.BlockSize})
	require.NoError(t, err)
	f := newFixture(t, overflowing{loop}, loop, nil)

	var faults []error
	f.ctl.OnFault(func(err error) { faults = append(faults, err) })

	_, err = f.ctl.RunTest(sequencer.Loopback)
	require.ErrorIs(t, err, fault.ErrQueueOverflow)

	resp, body := f.do(t, http.MethodPost, "/tests/0", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "fatal")

	resp, body = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"halted"`)

	require.Len(t, faults, 1)
	assert.True(t, fault.IsFatal(faults[0]))
}
