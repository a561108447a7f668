// Package backend holds the HTTP contract of the stream backend and a client
// for it.
package backend

import "camstream/internal/camera"

// Endpoint paths served by the stream backend.
const (
	PathStartStream  = "/start_stream"
	PathStopStream   = "/stop_stream"
	PathSaveSettings = "/save_settings"
	PathSettings     = "/settings"

	// FieldStreamType is the form field naming the requested variant.
	FieldStreamType = "stream_type"
)

// StartResponse is the body returned by POST /start_stream.
type StartResponse struct {
	Success   bool   `json:"success"`
	StreamURL string `json:"stream_url,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// StatusResponse is the body returned by POST /stop_stream and POST /save_settings.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SettingsResponse is the body returned by GET /settings. The password is
// never echoed back.
type SettingsResponse struct {
	Configured bool            `json:"configured"`
	Settings   camera.Settings `json:"settings"`
}
