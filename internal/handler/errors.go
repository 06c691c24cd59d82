package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/rs/zerolog/hlog"

	"github.com/prn-tf/keygate/internal/domain"
)

// ErrResponse is the JSON body of a failed request.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	Success   bool     `json:"success"`
	Message   string   `json:"error"`
	Code      string   `json:"code"`
	Fields    []string `json:"fields,omitempty"`
	Persisted []string `json:"persisted,omitempty"`
}

// Render sets the response status.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// NewErrResponse maps err onto the error taxonomy.
func NewErrResponse(err error) *ErrResponse {
	code := domain.Code(err)
	resp := &ErrResponse{
		Err:            err,
		HTTPStatusCode: statusForCode(code),
		Code:           code,
		Message:        err.Error(),
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		resp.Message = validation.Reason
		resp.Fields = validation.Fields
	}

	var partial *domain.PartialGenerationError
	if errors.As(err, &partial) {
		resp.Persisted = partial.Persisted
	}

	switch code {
	case "storage_failure":
		resp.Message = "storage is unavailable, try again later"
		if partial != nil {
			resp.Message = "key generation stopped early"
		}
	case "internal":
		resp.Message = "internal error"
	}
	return resp
}

func statusForCode(code string) int {
	switch code {
	case "validation_error":
		return http.StatusBadRequest
	case "unauthorized", "missing_credential":
		return http.StatusUnauthorized
	case "not_owner":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "expired", "already_activated", "hwid_bound", "reset_limit_exceeded":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err and logs server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := NewErrResponse(err)
	if resp.HTTPStatusCode >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", resp.Code).Msg("request failed")
	}
	if renderErr := render.Render(w, r, resp); renderErr != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
