package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/prn-tf/keygate/internal/auth"
	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/lifecycle"
	"github.com/prn-tf/keygate/internal/service"
)

// dateLayout formats expiry dates in generate and stats responses.
const dateLayout = "2006-01-02"

// KeyService is the set of key operations exposed over HTTP.
type KeyService interface {
	Generate(ctx context.Context, input service.GenerateInput) (*service.GenerateOutput, error)
	Check(ctx context.Context, input service.CheckInput) (lifecycle.CheckResult, error)
	Activate(ctx context.Context, input service.ActivateInput) (lifecycle.ActivateResult, error)
	Reset(ctx context.Context, input service.ResetInput) (lifecycle.ResetResult, error)
	Info(ctx context.Context, key string) (lifecycle.KeyInfo, error)
	Stats(ctx context.Context, credential string) (*lifecycle.Stats, error)
	Delete(ctx context.Context, input service.DeleteInput) error
}

// KeyHandler handles license key requests.
type KeyHandler struct {
	keys      KeyService
	validator *validator.Validate
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys KeyService) *KeyHandler {
	return &KeyHandler{
		keys:      keys,
		validator: newValidator(),
	}
}

// =============================================================================
// Responses
// =============================================================================

// GenerateResponse, InfoResponse, ResetResponse, StatsResponse and
// DeleteResponse are shared with the admin CLI so both print the same JSON.

type GenerateResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Keys      []string `json:"keys"`
	ExpiresAt string   `json:"expires_at"`
	TotalDays int      `json:"total_days"`
	MaxResets int      `json:"max_resets"`
}

type checkResponse struct {
	Success         bool                  `json:"success"`
	Valid           bool                  `json:"valid"`
	Status          lifecycle.CheckStatus `json:"status"`
	Message         string                `json:"message,omitempty"`
	Error           string                `json:"error,omitempty"`
	Key             string                `json:"key,omitempty"`
	ExpiresAt       *time.Time            `json:"expires_at,omitempty"`
	DaysLeft        *int                  `json:"days_left,omitempty"`
	NeedsActivation bool                  `json:"needs_activation,omitempty"`
	NeedsReset      bool                  `json:"needs_reset,omitempty"`
	ResetAvailable  *bool                 `json:"reset_available,omitempty"`
}

type activateResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
	Rebound   bool      `json:"rebound"`
}

type InfoResponse struct {
	Success    bool      `json:"success"`
	Key        string    `json:"key"`
	Activated  bool      `json:"activated"`
	DiscordID  *string   `json:"discord_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	DaysLeft   int       `json:"days_left"`
	HWIDResets int       `json:"hwid_resets"`
	MaxResets  int       `json:"max_resets"`
	CanReset   bool      `json:"can_reset"`
	Notes      *string   `json:"notes"`
}

type ResetResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Key             string `json:"key"`
	UsedResets      int    `json:"used_resets"`
	MaxResets       int    `json:"max_resets"`
	RemainingResets int    `json:"remaining_resets"`
	ByAdmin         bool   `json:"by_admin"`
}

type StatsTotals struct {
	TotalKeys       int `json:"total_keys"`
	ActivatedKeys   int `json:"activated_keys"`
	InactiveKeys    int `json:"inactive_keys"`
	ExpiredKeys     int `json:"expired_keys"`
	TotalHWIDResets int `json:"total_hwid_resets"`
}

type StatsKey struct {
	Key        string  `json:"key"`
	Activated  bool    `json:"activated"`
	DiscordID  *string `json:"discord_id"`
	ExpiresAt  string  `json:"expires_at"`
	HWIDResets int     `json:"hwid_resets"`
}

type StatsResponse struct {
	Success    bool                 `json:"success"`
	Stats      StatsTotals          `json:"stats"`
	RecentLogs []*domain.AuditEvent `json:"recent_logs"`
	Keys       []StatsKey           `json:"keys"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Key     string `json:"key"`
	Reason  string `json:"reason,omitempty"`
}

// =============================================================================
// Handlers
// =============================================================================

// Generate handles GET and POST /generate.
func (h *KeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	var err error
	if r.Method == http.MethodGet {
		err = generateFromQuery(r, &req)
	} else {
		err = h.bind(r, &req)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.keys.Generate(r.Context(), service.GenerateInput{
		Credential: auth.Credential(r.Context(), req.AdminToken),
		Amount:     req.Amount,
		Days:       req.Days,
		MaxResets:  req.MaxResets,
		Notes:      req.Notes,
		Origin:     origin(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, NewGenerateResponse(out))
}

// NewGenerateResponse converts a generated batch.
func NewGenerateResponse(out *service.GenerateOutput) GenerateResponse {
	return GenerateResponse{
		Success:   true,
		Message:   fmt.Sprintf("generated %d keys", len(out.Keys)),
		Keys:      out.Keys,
		ExpiresAt: out.ExpiresAt.Format(dateLayout),
		TotalDays: out.ValidityDays,
		MaxResets: out.MaxResets,
	}
}

func generateFromQuery(r *http.Request, req *generateRequest) error {
	q := r.URL.Query()

	var err error
	if req.Amount, err = queryInt(q, "amount"); err != nil {
		return err
	}
	if req.Days, err = queryInt(q, "days"); err != nil {
		return err
	}
	if req.MaxResets, err = queryInt(q, "max_resets"); err != nil {
		return err
	}
	req.Notes = strings.TrimSpace(q.Get("notes"))
	return nil
}

// Check handles GET /check. Every lookup outcome is a 200 response carrying
// valid and status; only bad input and storage failures are errors.
func (h *KeyHandler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := checkRequest{
		Key:  strings.TrimSpace(q.Get("key")),
		HWID: strings.TrimSpace(q.Get("hwid")),
	}
	if err := h.validate(&req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.keys.Check(r.Context(), service.CheckInput{
		Key:    req.Key,
		HWID:   req.HWID,
		Origin: origin(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, newCheckResponse(result))
}

func newCheckResponse(result lifecycle.CheckResult) checkResponse {
	resp := checkResponse{
		Success: true,
		Valid:   result.Valid(),
		Status:  result.Status,
	}

	switch result.Status {
	case lifecycle.CheckNotFound:
		resp.Success = false
		resp.Error = domain.ErrKeyNotFound.Error()
	case lifecycle.CheckExpired:
		resp.Error = domain.ErrKeyExpired.Error()
		resp.ExpiresAt = &result.ExpiresAt
	case lifecycle.CheckNeedsActivation:
		resp.NeedsActivation = true
		resp.Message = "key is not activated; activate it before use"
	case lifecycle.CheckGranted:
		resp.Message = "access granted"
		resp.Key = result.Key
		resp.ExpiresAt = &result.ExpiresAt
		resp.DaysLeft = &result.DaysLeft
	case lifecycle.CheckHWIDMismatch:
		resp.Error = "key is bound to another device"
		resp.NeedsReset = true
		resp.ResetAvailable = &result.ResetAvailable
	}
	return resp
}

// Activate handles POST /activate.
func (h *KeyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := h.bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.keys.Activate(r.Context(), service.ActivateInput{
		Key:       req.Key,
		HWID:      req.HWID,
		DiscordID: req.DiscordID,
		Origin:    origin(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	message := "key activated"
	if result.Rebound {
		message = "key bound to the new device"
	}
	render.JSON(w, r, activateResponse{
		Success:   true,
		Message:   message,
		Key:       result.Key,
		ExpiresAt: result.ExpiresAt,
		Rebound:   result.Rebound,
	})
}

// Info handles GET /info.
func (h *KeyHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.keys.Info(r.Context(), strings.TrimSpace(r.URL.Query().Get("key")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, NewInfoResponse(info))
}

// NewInfoResponse converts a key projection.
func NewInfoResponse(info lifecycle.KeyInfo) InfoResponse {
	return InfoResponse{
		Success:    true,
		Key:        info.Key,
		Activated:  info.Activated,
		DiscordID:  info.DiscordID,
		CreatedAt:  info.CreatedAt,
		ExpiresAt:  info.ExpiresAt,
		DaysLeft:   info.DaysLeft,
		HWIDResets: info.HWIDResets,
		MaxResets:  info.MaxResets,
		CanReset:   info.CanReset,
		Notes:      info.Notes,
	}
}

// Reset handles POST /reset.
func (h *KeyHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := h.bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.keys.Reset(r.Context(), service.ResetInput{
		Key:        req.Key,
		Credential: auth.Credential(r.Context(), req.AdminToken),
		DiscordID:  req.DiscordID,
		Reason:     req.Reason,
		Origin:     origin(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, NewResetResponse(result))
}

// NewResetResponse converts a reset result.
func NewResetResponse(result lifecycle.ResetResult) ResetResponse {
	return ResetResponse{
		Success:         true,
		Message:         "hwid reset",
		Key:             result.Key,
		UsedResets:      result.UsedResets,
		MaxResets:       result.MaxResets,
		RemainingResets: result.RemainingResets,
		ByAdmin:         result.ByAdmin,
	}
}

// Stats handles GET /stats.
func (h *KeyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.keys.Stats(r.Context(), auth.CredentialFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, NewStatsResponse(stats))
}

// NewStatsResponse converts the administrative report.
func NewStatsResponse(stats *lifecycle.Stats) StatsResponse {
	keys := make([]StatsKey, 0, len(stats.Keys))
	for _, k := range stats.Keys {
		keys = append(keys, StatsKey{
			Key:        k.Key,
			Activated:  k.Activated,
			DiscordID:  k.DiscordID,
			ExpiresAt:  k.ExpiresAt.Format(dateLayout),
			HWIDResets: k.HWIDResets,
		})
	}

	return StatsResponse{
		Success: true,
		Stats: StatsTotals{
			TotalKeys:       stats.Totals.TotalKeys,
			ActivatedKeys:   stats.Totals.ActivatedKeys,
			InactiveKeys:    stats.Totals.InactiveKeys,
			ExpiredKeys:     stats.Totals.ExpiredKeys,
			TotalHWIDResets: stats.Totals.TotalHWIDResets,
		},
		RecentLogs: stats.RecentEvents,
		Keys:       keys,
	}
}

// Delete handles DELETE /delete. The key may also be given as a query parameter.
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := h.bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Key == "" {
		req.Key = strings.TrimSpace(r.URL.Query().Get("key"))
	}

	err := h.keys.Delete(r.Context(), service.DeleteInput{
		Key:        req.Key,
		Credential: auth.Credential(r.Context(), req.AdminToken),
		Reason:     req.Reason,
		Origin:     origin(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, NewDeleteResponse(req.Key, req.Reason))
}

// NewDeleteResponse confirms a deletion.
func NewDeleteResponse(key, reason string) DeleteResponse {
	return DeleteResponse{
		Success: true,
		Message: "key deleted",
		Key:     key,
		Reason:  reason,
	}
}

// Ensure the service satisfies KeyService.
var _ KeyService = (*service.KeyService)(nil)
