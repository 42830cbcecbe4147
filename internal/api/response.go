package api

import (
	"encoding/json"
	"net/http"
)

// SynthesisRequest is the POST /tts payload. Voice, lang, and speed are
// optional; unset values take the configured defaults.
type SynthesisRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Lang  string  `json:"lang,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// SynthesisResult references a generated artifact.
type SynthesisResult struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
}

// APIResponse is the envelope for every /tts response. Failures carry only
// success=false and a message, never data.
type APIResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *SynthesisResult `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Message: message,
	})
}
