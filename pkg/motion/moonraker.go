package motion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const gcodeScriptPath = "/printer/gcode/script"

// Moonraker drives a Klipper printer through the Moonraker HTTP API.
type Moonraker struct {
	baseURL  string
	feedRate int
	client   *http.Client
	logger   *zap.Logger
}

// MoonrakerOption configures a Moonraker stage.
type MoonrakerOption func(*Moonraker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) MoonrakerOption {
	return func(m *Moonraker) {
		if c != nil {
			m.client = c
		}
	}
}

// WithFeedRate sets the feed rate in mm/min.
func WithFeedRate(f int) MoonrakerOption {
	return func(m *Moonraker) {
		if f > 0 {
			m.feedRate = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) MoonrakerOption {
	return func(m *Moonraker) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMoonraker returns a stage for the Moonraker instance at baseURL.
func NewMoonraker(baseURL string, opts ...MoonrakerOption) (*Moonraker, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("motion: moonraker URL is empty")
	}
	m := &Moonraker{
		baseURL:  strings.TrimRight(baseURL, "/"),
		feedRate: DefaultFeedRate,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type gcodeRequest struct {
	Script string `json:"script"`
}

// MoveRelative posts one relative move script. The reply body is discarded.
func (m *Moonraker) MoveRelative(ctx context.Context, axis Axis, distance float64) error {
	return m.SendGCode(ctx, FormatMove(axis, distance, m.feedRate))
}

// SendGCode runs script on the printer.
func (m *Moonraker) SendGCode(ctx context.Context, script string) error {
	body, err := json.Marshal(gcodeRequest{Script: script})
	if err != nil {
		return fmt.Errorf("motion: encode gcode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+gcodeScriptPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("motion: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	m.logger.Debug("gcode", zap.String("script", script))
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("motion: post gcode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("motion: moonraker returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
