package nav

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/httputil"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
)

var logf = monitoring.Component("nav")

// goalRequest is the body posted to the navigation bridge.
type goalRequest struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	QX float64 `json:"qx"`
	QY float64 `json:"qy"`
	QZ float64 `json:"qz"`
	QW float64 `json:"qw"`
}

type goalResponse struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HTTPNavigator sends goals to a navigation bridge that exposes
// POST {base}/goal and answers once the goal terminates.
type HTTPNavigator struct {
	BaseURL string
	Client  httputil.HTTPClient
}

// NewHTTPNavigator returns a navigator for the bridge at baseURL. A nil
// client uses httputil.NewStandardClient(nil).
func NewHTTPNavigator(baseURL string, client httputil.HTTPClient) *HTTPNavigator {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPNavigator{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

// MoveTo posts the goal and waits for the bridge's verdict.
func (n *HTTPNavigator) MoveTo(ctx context.Context, pose geom.Pose) (Status, error) {
	body, err := json.Marshal(goalRequest{
		X:  pose.Position.X,
		Y:  pose.Position.Y,
		QX: pose.Orientation.Imag,
		QY: pose.Orientation.Jmag,
		QZ: pose.Orientation.Kmag,
		QW: pose.Orientation.Real,
	})
	if err != nil {
		return StatusLost, fmt.Errorf("encode goal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/goal", bytes.NewReader(body))
	if err != nil {
		return StatusLost, fmt.Errorf("build goal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		if st, done := timeoutStatus(ctx); done {
			return st, nil
		}
		return StatusLost, fmt.Errorf("send goal: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return StatusLost, fmt.Errorf("read goal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return StatusLost, fmt.Errorf("navigation bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gr goalResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return StatusLost, fmt.Errorf("decode goal response: %w", err)
	}
	if gr.Error != "" {
		logf("bridge reported %s for goal %s: %s", gr.Status, pose.Position, gr.Error)
	}
	return gr.Status, nil
}
