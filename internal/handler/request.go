package handler

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/prn-tf/keygate/internal/domain"
)

type checkRequest struct {
	Key  string `json:"key" validate:"required,max=64"`
	HWID string `json:"hwid" validate:"required,max=256"`
}

type activateRequest struct {
	Key       string `json:"key" form:"key" validate:"required,max=64"`
	HWID      string `json:"hwid" form:"hwid" validate:"required,max=256"`
	DiscordID string `json:"discord_id" form:"discord_id" validate:"required,max=64"`
}

// Bind trims the request fields.
func (a *activateRequest) Bind(r *http.Request) error {
	a.Key = strings.TrimSpace(a.Key)
	a.HWID = strings.TrimSpace(a.HWID)
	a.DiscordID = strings.TrimSpace(a.DiscordID)
	return nil
}

type generateRequest struct {
	AdminToken string `json:"admin_token" form:"admin_token"`
	Amount     *int   `json:"amount" form:"amount"`
	Days       *int   `json:"days" form:"days"`
	MaxResets  *int   `json:"max_resets" form:"max_resets"`
	Notes      string `json:"notes" form:"notes" validate:"max=500"`
}

// Bind trims the request fields.
func (g *generateRequest) Bind(r *http.Request) error {
	g.Notes = strings.TrimSpace(g.Notes)
	return nil
}

type resetRequest struct {
	Key        string `json:"key" form:"key" validate:"required,max=64"`
	AdminToken string `json:"admin_token" form:"admin_token"`
	DiscordID  string `json:"discord_id" form:"discord_id" validate:"max=64"`
	Reason     string `json:"reason" form:"reason" validate:"max=500"`
}

// Bind trims the request fields.
func (rr *resetRequest) Bind(r *http.Request) error {
	rr.Key = strings.TrimSpace(rr.Key)
	rr.DiscordID = strings.TrimSpace(rr.DiscordID)
	return nil
}

type deleteRequest struct {
	Key        string `json:"key" form:"key"`
	AdminToken string `json:"admin_token" form:"admin_token"`
	Reason     string `json:"reason" form:"reason" validate:"max=500"`
}

// Bind trims the request fields.
func (d *deleteRequest) Bind(r *http.Request) error {
	d.Key = strings.TrimSpace(d.Key)
	return nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate converts validator failures into a domain.ValidationError.
func (h *KeyHandler) validate(v any) error {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewValidationError(err.Error())
	}

	fields := make([]string, 0, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
		messages = append(messages, formatFieldError(fe))
	}
	return domain.NewValidationError(strings.Join(messages, "; "), fields...)
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// bind decodes the body into v and validates it. An empty body decodes to the
// zero value so that missing fields are reported by validation. Bodies without a
// Content-Type are read as JSON.
func (h *KeyHandler) bind(r *http.Request, v render.Binder) error {
	var err error
	if r.Header.Get("Content-Type") == "" {
		err = render.DecodeJSON(r.Body, v)
	} else {
		err = render.Decode(r, v)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return domain.NewValidationError("request body could not be decoded")
	}

	if err := v.Bind(r); err != nil {
		return err
	}
	return h.validate(v)
}

// queryInt parses an optional integer query parameter.
func queryInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, domain.NewValidationError(name+" must be an integer", name)
	}
	return &n, nil
}

// origin returns the client address without its port. RealIP has already
// replaced RemoteAddr when a proxy header was present.
func origin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
