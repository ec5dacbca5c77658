package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"SketchDetect/canvas"
	"SketchDetect/inference"
	iface "SketchDetect/interface"
	"SketchDetect/logger"
	"SketchDetect/monitor"
	"SketchDetect/report"

	"go.uber.org/zap"
)

// Session is the server-side state behind one open drawing page.
type Session struct {
	id  string
	mgr *Manager

	mu         sync.Mutex
	surface    *canvas.Surface
	status     iface.Status
	results    string
	procTime   string
	imageInfo  string
	detecting  bool
	debugLog   []string
	lastActive time.Time
	closers    []func()
	released   bool

	cancelTimer chan struct{}
	cancelOnce  sync.Once
	closeOnce   sync.Once
}

type StatusView struct {
	Text  string `json:"text"`
	Class string `json:"class"`
}

type ProcessingInfo struct {
	Time      string `json:"time"`
	ImageInfo string `json:"imageInfo"`
}

// View is everything the page renders.
type View struct {
	ID               string         `json:"sessionID"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	BrushSize        int            `json:"brushSize"`
	Drawing          bool           `json:"drawing"`
	Detecting        bool           `json:"detecting"`
	Status           StatusView     `json:"apiStatus"`
	DetectionResults string         `json:"detectionResults"`
	ProcessingInfo   ProcessingInfo `json:"processingInfo"`
	DebugLog         string         `json:"debugLog"`
}

func (s *Session) ID() string { return s.id }

// OnRelease registers a hook run once when the session is released. It
// reports false, without keeping fn, when the session is already gone.
func (s *Session) OnRelease(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.closers = append(s.closers, fn)
	return true
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.viewLocked()
}

// Pointer feeds one mouse or touch event into the surface.
func (s *Session) Pointer(ev iface.PointerEvent) error {
	action, p, err := ev.Resolve()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	switch action {
	case iface.PointerBegin:
		s.surface.Begin(p)
	case iface.PointerExtend:
		s.surface.Extend(p)
	case iface.PointerEnd:
		s.surface.End()
	}
	return nil
}

func (s *Session) SetBrushSize(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	size := s.surface.SetBrushSize(n)
	s.logLocked(fmt.Sprintf("brush size changed: %dpx", size))
	return size
}

// Reset clears the surface and the displayed results.
func (s *Session) Reset() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.surface.Reset()
	s.resetResultsLocked()
	s.logLocked("canvas cleared")
	return s.viewLocked()
}

// Upload draws an image file onto the surface in place of the drawing.
func (s *Session) Upload(name string, data []byte) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.logLocked(fmt.Sprintf("image file selected: %s (%dKB)", name, int(math.Round(float64(len(data))/1024))))
	p, err := s.surface.LoadImage(data)
	if err != nil {
		s.logLocked(fmt.Sprintf("image load failed: %v", err))
		return s.viewLocked(), err
	}
	s.logLocked(fmt.Sprintf("image loaded onto canvas. original: %dx%d, scaled: %dx%d",
		p.Source.X, p.Source.Y, p.Rect.Dx(), p.Rect.Dy()))
	s.results = report.Uploaded
	s.procTime = ""
	s.imageInfo = report.UploadInfo(name)
	return s.viewLocked(), nil
}

func (s *Session) CanvasPNG() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return s.surface.PNG()
}

// CheckStatus queries the management endpoint and stores the result. Failures
// end up in the status text, never in the return value.
func (s *Session) CheckStatus(ctx context.Context) View {
	s.mu.Lock()
	s.touchLocked()
	s.status = iface.Status{Kind: iface.StatusChecking}
	s.mu.Unlock()

	st := s.mgr.detector.CheckStatus(ctx)

	s.mu.Lock()
	s.status = st
	switch st.Kind {
	case iface.StatusOnline:
		s.logLocked(fmt.Sprintf("API status: online, models: %d", len(st.Models)))
		s.logLocked("loaded models: " + report.Pretty(modelsJSON(st)))
	default:
		s.logLocked("API status check failed: " + st.Error)
	}
	v := s.viewLocked()
	s.mu.Unlock()

	s.mgr.notify(st)
	return v
}

// Detect encodes the surface and runs one prediction. It returns ErrBusy when
// a detection is already in flight; any other failure is reported in the view.
// The call is detached from ctx cancellation so a started detection always
// finishes before the busy flag drops.
func (s *Session) Detect(ctx context.Context) (View, error) {
	s.mu.Lock()
	s.touchLocked()
	if s.detecting {
		v := s.viewLocked()
		s.mu.Unlock()
		return v, ErrBusy
	}
	s.detecting = true
	s.results = report.Analyzing
	width, height := s.surface.Width(), s.surface.Height()
	start := time.Now()
	image, err := s.surface.Base64JPEG(s.mgr.opts.JPEGQuality)
	if err == nil {
		s.logLocked(fmt.Sprintf("image encoded: %d chars, about %dKB", len(image), inference.PayloadKB(image)))
		s.logLocked("calling prediction API...")
	}
	s.mu.Unlock()

	var out iface.Outcome
	if err != nil {
		out.Elapsed = time.Since(start)
		err = fmt.Errorf("encode canvas: %w", err)
	} else {
		out, err = s.mgr.detector.Detect(context.WithoutCancel(ctx), image)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detecting = false
	s.touchLocked()
	if err != nil {
		s.results = report.Failure(err)
		s.procTime = report.FailedProcessingTime(out.Elapsed)
		s.imageInfo = ""
		s.logLocked("detection failed: " + err.Error())
		logger.Log().Warn("detection failed", zap.String("sessionID", s.id),
			zap.Duration("elapsed", out.Elapsed), zap.Error(err))
		monitor.ObserveDetection(monitor.OutcomeFailed, out.Elapsed)
		return s.viewLocked(), nil
	}

	s.results = report.Detection(out)
	s.procTime = report.ProcessingTime(out.Elapsed)
	s.imageInfo = report.ImageInfo(out.PayloadKB, width, height)
	s.logLocked(fmt.Sprintf("detection complete: %dms", out.Elapsed.Milliseconds()))
	s.logLocked("result: " + report.Pretty(out.Raw))
	outcome := monitor.OutcomeRaw
	if out.Structured {
		outcome = monitor.OutcomeStructured
	}
	monitor.ObserveDetection(outcome, out.Elapsed)
	logger.Log().Info("detection complete", zap.String("sessionID", s.id),
		zap.Duration("elapsed", out.Elapsed), zap.String("outcome", outcome),
		zap.Int("boxes", len(out.BBoxes)), zap.Int("masks", len(out.Segms)))
	return s.viewLocked(), nil
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detecting {
		return 0
	}
	return s.mgr.now().Sub(s.lastActive)
}

func (s *Session) touchLocked() {
	s.lastActive = s.mgr.now()
}

func (s *Session) resetResultsLocked() {
	s.results = report.Placeholder
	s.procTime = ""
	s.imageInfo = ""
}

// logLocked appends a timestamped line to the page's debug log and mirrors it
// to zap at debug level.
func (s *Session) logLocked(msg string) {
	line := fmt.Sprintf("[%s] %s", s.mgr.now().Format("15:04:05"), msg)
	s.debugLog = append(s.debugLog, line)
	if over := len(s.debugLog) - s.mgr.opts.DebugLogLines; over > 0 {
		s.debugLog = append(s.debugLog[:0:0], s.debugLog[over:]...)
	}
	logger.Log().Debug(msg, zap.String("sessionID", s.id))
}

func (s *Session) viewLocked() View {
	return View{
		ID:               s.id,
		Width:            s.surface.Width(),
		Height:           s.surface.Height(),
		BrushSize:        s.surface.BrushSize(),
		Drawing:          s.surface.Drawing(),
		Detecting:        s.detecting,
		Status:           StatusView{Text: report.Status(s.status), Class: report.StatusClass(s.status)},
		DetectionResults: s.results,
		ProcessingInfo:   ProcessingInfo{Time: s.procTime, ImageInfo: s.imageInfo},
		DebugLog:         strings.Join(s.debugLog, "\n"),
	}
}

func modelsJSON(st iface.Status) []byte {
	if len(st.Models) == 0 {
		return []byte("[]")
	}
	parts := make([]string, len(st.Models))
	for i, m := range st.Models {
		parts[i] = string(m)
	}
	return []byte("[" + strings.Join(parts, ",") + "]")
}
