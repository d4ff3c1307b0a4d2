package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ShayCichocki/teamlead/internal/runtime"
	"github.com/ShayCichocki/teamlead/internal/specs"
	"github.com/ShayCichocki/teamlead/internal/supervisor"
)

// maxBody bounds request bodies. Hook payloads carry tool input.
const maxBody = 8 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps operator errors onto 4xx codes.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrSessionNotFound),
		errors.Is(err, supervisor.ErrPermissionNotFound),
		errors.Is(err, specs.ErrSpecNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrSessionStarting),
		errors.Is(err, supervisor.ErrNoRuntimeSession),
		errors.Is(err, supervisor.ErrOverBudget):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrInvalidConfig),
		errors.Is(err, supervisor.ErrInvalidMessage),
		errors.Is(err, specs.ErrInvalidName),
		errors.Is(err, runtime.ErrUnknownHook):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
