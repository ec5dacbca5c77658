// Package report turns detection outcomes, errors and model-server status into
// the text shown to the user. Everything here is pure string assembly.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	iface "SketchDetect/interface"
)

const (
	Placeholder = "Results will be displayed here."
	Analyzing   = "Analyzing image..."
	Uploaded    = "Image uploaded. Press detect to analyze."
	NotDetected = "No humanoid figure detected."
)

// Detection renders a successful outcome.
func Detection(o iface.Outcome) string {
	if !o.Structured {
		return "Raw result:\n" + Pretty(o.Raw)
	}
	var b strings.Builder
	b.WriteString("Detection results:\n")
	fmt.Fprintf(&b, "- Bounding boxes: %d\n", len(o.BBoxes))
	fmt.Fprintf(&b, "- Segmentations: %d\n\n", len(o.Segms))
	if len(o.BBoxes) > 0 {
		b.WriteString("Bounding box details:\n")
		writeEntries(&b, o.BBoxes)
	}
	if len(o.Segms) > 0 {
		b.WriteString("\nSegmentation details:\n")
		writeEntries(&b, o.Segms)
	}
	if o.Empty() {
		b.WriteString(NotDetected)
	}
	return b.String()
}

func writeEntries(b *strings.Builder, entries []json.RawMessage) {
	for i, e := range entries {
		fmt.Fprintf(b, "  %d. %s\n", i+1, Compact(e))
	}
}

// Failure renders an error from a status check or detection.
func Failure(err error) string {
	return "Error: " + err.Error()
}

func ProcessingTime(d time.Duration) string {
	return fmt.Sprintf("Processing time: %dms", d.Milliseconds())
}

func FailedProcessingTime(d time.Duration) string {
	return fmt.Sprintf("Processing time: %dms (failed)", d.Milliseconds())
}

func ImageInfo(kb, width, height int) string {
	return fmt.Sprintf("Image size: %dKB (%dx%dpx)", kb, width, height)
}

func UploadInfo(name string) string {
	return "Uploaded image: " + name
}

// Status renders the one-line model-server status.
func Status(s iface.Status) string {
	switch s.Kind {
	case iface.StatusOnline:
		return fmt.Sprintf("Online (%d models loaded)", len(s.Models))
	case iface.StatusOffline:
		return fmt.Sprintf("Offline (%s)", s.Error)
	default:
		return "Checking..."
	}
}

// StatusClass is the CSS class the page uses for the status badge.
func StatusClass(s iface.Status) string {
	if s.Kind == "" {
		return "status-" + string(iface.StatusChecking)
	}
	return "status-" + string(s.Kind)
}

// Pretty indents JSON with two spaces, keeping key order. Input that is not
// JSON comes back unchanged.
func Pretty(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func Compact(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
