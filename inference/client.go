package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	iface "SketchDetect/interface"
	"SketchDetect/logger"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Endpoint locates the model server. ModelVersion may be empty, in which case
// the prediction URL carries no version segment.
type Endpoint struct {
	APIBaseURL    string
	ManagementURL string
	ModelName     string
	ModelVersion  string
	// Timeout of zero leaves the transport defaults in charge.
	Timeout time.Duration
}

type Instance struct {
	Data string `json:"data"`
}

// PredictRequest is the single-instance envelope TorchServe expects.
type PredictRequest struct {
	Instances []Instance `json:"instances"`
}

type modelList struct {
	Models []json.RawMessage `json:"models"`
}

type predictProbe struct {
	BBox *[]json.RawMessage `json:"bbox_result"`
	Segm *[]json.RawMessage `json:"segm_result"`
}

// StatusError is returned for any non-2xx reply.
type StatusError struct {
	Code int
	Text string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Text)
}

var ErrInvalidResponse = errors.New("response is not valid JSON")

type Client struct {
	rest *resty.Client
	ep   Endpoint
}

func NewClient(ep Endpoint) *Client {
	ep.APIBaseURL = strings.TrimRight(ep.APIBaseURL, "/")
	ep.ManagementURL = strings.TrimRight(ep.ManagementURL, "/")
	client := resty.New()
	if ep.Timeout > 0 {
		client.SetTimeout(ep.Timeout)
	}
	return &Client{rest: client, ep: ep}
}

func (c *Client) Endpoint() Endpoint { return c.ep }

func (c *Client) PredictionURL() string {
	if c.ep.ModelVersion == "" {
		return fmt.Sprintf("%s/predictions/%s", c.ep.APIBaseURL, c.ep.ModelName)
	}
	return fmt.Sprintf("%s/predictions/%s/%s", c.ep.APIBaseURL, c.ep.ModelName, c.ep.ModelVersion)
}

// CheckStatus asks the management API for its model list. Every failure is
// folded into an offline status; nothing is retried.
func (c *Client) CheckStatus(ctx context.Context) iface.Status {
	resp, err := c.rest.R().
		SetContext(ctx).
		Get(c.ep.ManagementURL + "/models")
	if err != nil {
		return offline(err.Error())
	}
	if !resp.IsSuccess() {
		return offline(fmt.Sprintf("HTTP %d", resp.StatusCode()))
	}
	var list modelList
	if err := json.Unmarshal(resp.Body(), &list); err != nil {
		return offline(fmt.Sprintf("decode model list: %v", err))
	}
	return iface.Status{Kind: iface.StatusOnline, Models: list.Models}
}

func offline(msg string) iface.Status {
	if msg == "" {
		msg = "unknown error"
	}
	return iface.Status{Kind: iface.StatusOffline, Error: msg}
}

// Detect posts a base64 JPEG to the prediction endpoint. The returned Outcome
// always carries the elapsed time and payload size, also alongside an error.
func (c *Client) Detect(ctx context.Context, image string) (iface.Outcome, error) {
	out := iface.Outcome{PayloadKB: PayloadKB(image)}
	start := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(PredictRequest{Instances: []Instance{{Data: image}}}).
		Post(c.PredictionURL())
	out.Elapsed = time.Since(start)
	if err != nil {
		return out, fmt.Errorf("prediction request: %w", err)
	}
	if !resp.IsSuccess() {
		logger.Log().Warn("prediction endpoint returned error",
			zap.String("status", resp.Status()),
			zap.String("body", truncate(resp.String(), 512)))
		return out, &StatusError{Code: resp.StatusCode(), Text: reasonPhrase(resp.Status(), resp.StatusCode())}
	}

	body := resp.Body()
	if !json.Valid(body) {
		return out, ErrInvalidResponse
	}
	out.Raw = body
	var probe predictProbe
	// a body that is not an object, or lists of the wrong shape, stay raw
	if err := json.Unmarshal(body, &probe); err == nil && probe.BBox != nil && probe.Segm != nil {
		out.Structured = true
		out.BBoxes = *probe.BBox
		out.Segms = *probe.Segm
	}
	return out, nil
}

// Ping hits the inference API's /ping route.
func (c *Client) Ping(ctx context.Context) bool {
	resp, err := c.rest.R().SetContext(ctx).Get(c.ep.APIBaseURL + "/ping")
	return err == nil && resp.IsSuccess()
}

// PayloadKB estimates the decoded size of a base64 string in KB.
func PayloadKB(b64 string) int {
	return int(math.Round(float64(len(b64)) * 0.75 / 1024))
}

// reasonPhrase takes the text after the code in a status line such as
// "503 Model Loading", falling back to the standard text.
func reasonPhrase(status string, code int) string {
	if text := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code))); text != "" {
		return text
	}
	return http.StatusText(code)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
