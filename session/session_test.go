package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	iface "SketchDetect/interface"
	"SketchDetect/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	mu      sync.Mutex
	status  iface.Status
	outcome iface.Outcome
	err     error
	gate    chan struct{}
	images  []string
}

func (f *fakeDetector) CheckStatus(ctx context.Context) iface.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeDetector) Detect(ctx context.Context, img string) (iface.Outcome, error) {
	f.mu.Lock()
	f.images = append(f.images, img)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.outcome, f.err
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []iface.StatusKind
}

func (r *recordingObserver) ObserveStatus(st iface.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, st.Kind)
}

func newManager(det Detector, obs ...StatusObserver) *Manager {
	return NewManager(det, Options{Width: 64, Height: 64}, obs...)
}

func TestManager_Lifecycle(t *testing.T) {
	m := newManager(&fakeDetector{})
	s := m.Create()
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	closed := 0
	assert.True(t, s.OnRelease(func() { closed++ }))
	assert.True(t, m.Release(s.ID()))
	assert.False(t, m.Release(s.ID()))
	assert.Equal(t, 1, closed)

	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, m.Len())
}

func TestSession_OnReleaseAfterRelease(t *testing.T) {
	m := newManager(&fakeDetector{})
	s := m.Create()
	require.True(t, m.Release(s.ID()))

	called := false
	assert.False(t, s.OnRelease(func() { called = true }))
	m.Release(s.ID())
	assert.False(t, called)
}

func TestManager_Close(t *testing.T) {
	m := newManager(&fakeDetector{})
	m.Create()
	m.Create()
	m.Close()
	assert.Zero(t, m.Len())
}

func TestManager_IdleRelease(t *testing.T) {
	m := NewManager(&fakeDetector{}, Options{Width: 16, Height: 16, IdleTimeout: 50 * time.Millisecond})
	s := m.Create()
	released := make(chan struct{})
	s.OnRelease(func() { close(released) })

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was not released")
	}
	_, err := m.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSession_InitialView(t *testing.T) {
	s := newManager(&fakeDetector{}).Create()
	v := s.View()
	assert.Equal(t, 64, v.Width)
	assert.Equal(t, 5, v.BrushSize)
	assert.Equal(t, "Checking...", v.Status.Text)
	assert.Equal(t, "status-checking", v.Status.Class)
	assert.Equal(t, report.Placeholder, v.DetectionResults)
	assert.Contains(t, v.DebugLog, "canvas initialized")
}

func TestSession_PointerAndReset(t *testing.T) {
	s := newManager(&fakeDetector{}).Create()

	require.NoError(t, s.Pointer(iface.PointerEvent{Type: "mousedown", ClientX: 10, ClientY: 10}))
	assert.True(t, s.View().Drawing)
	require.NoError(t, s.Pointer(iface.PointerEvent{Type: "mousemove", ClientX: 50, ClientY: 10}))
	require.NoError(t, s.Pointer(iface.PointerEvent{Type: "mouseup"}))
	assert.False(t, s.View().Drawing)
	assert.Error(t, s.Pointer(iface.PointerEvent{Type: "dblclick"}))

	before, err := s.CanvasPNG()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(before))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 0xff}, color.RGBAModel.Convert(img.At(30, 10)))

	v := s.Reset()
	assert.Equal(t, report.Placeholder, v.DetectionResults)
	assert.Empty(t, v.ProcessingInfo.Time)

	after, err := s.CanvasPNG()
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(after))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, color.RGBAModel.Convert(img.At(30, 10)))
}

func TestSession_SetBrushSize(t *testing.T) {
	s := newManager(&fakeDetector{}).Create()
	assert.Equal(t, 9, s.SetBrushSize(9))
	v := s.View()
	assert.Equal(t, 9, v.BrushSize)
	assert.Contains(t, v.DebugLog, "brush size changed: 9px")
}

func TestSession_Upload(t *testing.T) {
	s := newManager(&fakeDetector{}).Create()

	src := image.NewRGBA(image.Rect(0, 0, 20, 10))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	v, err := s.Upload("figure.png", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, report.Uploaded, v.DetectionResults)
	assert.Equal(t, "Uploaded image: figure.png", v.ProcessingInfo.ImageInfo)
	assert.Contains(t, v.DebugLog, "original: 20x10, scaled: 64x32")

	_, err = s.Upload("broken.png", []byte("nope"))
	assert.Error(t, err)
}

func TestSession_CheckStatus(t *testing.T) {
	det := &fakeDetector{status: iface.Status{
		Kind:   iface.StatusOnline,
		Models: []json.RawMessage{json.RawMessage(`{"modelName":"drawn_humanoid_detector"}`)},
	}}
	obs := &recordingObserver{}
	s := newManager(det, obs).Create()

	v := s.CheckStatus(context.Background())
	assert.Equal(t, "Online (1 models loaded)", v.Status.Text)
	assert.Equal(t, "status-online", v.Status.Class)

	det.mu.Lock()
	det.status = iface.Status{Kind: iface.StatusOffline, Error: "dial tcp: connection refused"}
	det.mu.Unlock()
	v = s.CheckStatus(context.Background())
	assert.Equal(t, "Offline (dial tcp: connection refused)", v.Status.Text)
	assert.Contains(t, v.DebugLog, "API status check failed: dial tcp: connection refused")

	assert.Equal(t, []iface.StatusKind{iface.StatusOnline, iface.StatusOffline}, obs.seen)
}

func TestSession_Detect(t *testing.T) {
	ctx := context.Background()

	t.Run("Test Success", func(t *testing.T) {
		det := &fakeDetector{outcome: iface.Outcome{
			Structured: true,
			Raw:        json.RawMessage(`{"bbox_result":[],"segm_result":[]}`),
			Elapsed:    42 * time.Millisecond,
			PayloadKB:  7,
		}}
		s := newManager(det).Create()
		v, err := s.Detect(ctx)
		require.NoError(t, err)
		assert.False(t, v.Detecting)
		assert.Contains(t, v.DetectionResults, report.NotDetected)
		assert.Equal(t, "Processing time: 42ms", v.ProcessingInfo.Time)
		assert.Equal(t, "Image size: 7KB (64x64px)", v.ProcessingInfo.ImageInfo)

		require.Len(t, det.images, 1)
		_, err = base64.StdEncoding.DecodeString(det.images[0])
		assert.NoError(t, err)
	})

	t.Run("Test Failure Is Reported In View", func(t *testing.T) {
		det := &fakeDetector{
			outcome: iface.Outcome{Elapsed: 15 * time.Millisecond},
			err:     errors.New("HTTP 502: Bad Gateway"),
		}
		s := newManager(det).Create()
		v, err := s.Detect(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Error: HTTP 502: Bad Gateway", v.DetectionResults)
		assert.Equal(t, "Processing time: 15ms (failed)", v.ProcessingInfo.Time)
		assert.Empty(t, v.ProcessingInfo.ImageInfo)
		assert.Contains(t, v.DebugLog, "detection failed: HTTP 502: Bad Gateway")
	})

	t.Run("Test Busy Rejects Reentry", func(t *testing.T) {
		det := &fakeDetector{gate: make(chan struct{}), outcome: iface.Outcome{Raw: json.RawMessage(`{}`)}}
		s := newManager(det).Create()

		done := make(chan View, 1)
		go func() {
			v, _ := s.Detect(ctx)
			done <- v
		}()
		require.Eventually(t, func() bool { return s.View().Detecting }, time.Second, 5*time.Millisecond)
		assert.Equal(t, report.Analyzing, s.View().DetectionResults)

		_, err := s.Detect(ctx)
		assert.ErrorIs(t, err, ErrBusy)

		close(det.gate)
		v := <-done
		assert.False(t, v.Detecting)
		assert.Equal(t, "Raw result:\n{}", v.DetectionResults)
	})

	t.Run("Test Cancelled Caller Still Completes", func(t *testing.T) {
		det := &fakeDetector{outcome: iface.Outcome{Structured: true}}
		s := newManager(det).Create()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		v, err := s.Detect(cctx)
		require.NoError(t, err)
		assert.Contains(t, v.DetectionResults, report.NotDetected)
	})
}

func TestSession_DebugLogIsBounded(t *testing.T) {
	m := NewManager(&fakeDetector{}, Options{Width: 8, Height: 8, DebugLogLines: 3})
	s := m.Create()
	for i := 0; i < 10; i++ {
		s.SetBrushSize(i + 1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.debugLog, 3)
	assert.Contains(t, s.debugLog[2], "brush size changed: 10px")
}
