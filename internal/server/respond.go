package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/engine"
	"github.com/runnerr0/vitals/internal/storage"
	"github.com/runnerr0/vitals/internal/validation"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, validation.ErrValidation),
		errors.Is(err, storage.ErrUnknownField),
		errors.Is(err, storage.ErrInvalidValue),
		errors.Is(err, audit.ErrNoChanges):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, engine.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStaleWrite),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, audit.ErrAlreadySuperseded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Errors()
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst, rejecting unknown keys and oversize
// bodies.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}
