package materials

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/auth"
	"github.com/sitestock/sitestock/internal/platform/httpx"
	"github.com/sitestock/sitestock/internal/shared"
)

// Handler exposes material CRUD and project linkage endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: shared.Validator()}
}

// MountRoutes registers material routes. Mutations need backoffice rights.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{materialID}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleBackoffice))
		r.Post("/", h.create)
		r.Put("/{materialID}", h.update)
	})
}

// MountLinkRoutes registers the project-material linkage routes under
// the projects subtree.
func (h *Handler) MountLinkRoutes(r chi.Router) {
	r.Use(auth.RequireRole(auth.RoleBackoffice))
	r.Post("/{projectID}/materials/{materialID}/link", h.link)
	r.Delete("/{projectID}/materials/{materialID}/link", h.unlink)
}

type materialRequest struct {
	Code         string   `json:"code" validate:"required,max=40"`
	Name         string   `json:"name" validate:"required,max=160"`
	Unit         string   `json:"unit" validate:"required,max=20"`
	Category     string   `json:"category" validate:"max=80"`
	ReorderLevel *float64 `json:"reorderLevel" validate:"omitempty,gte=0"`
	DefaultStore string   `json:"defaultStore" validate:"max=160"`
}

type materialResponse struct {
	ID           int64    `json:"id"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Unit         string   `json:"unit"`
	Category     string   `json:"category"`
	ReorderLevel *float64 `json:"reorderLevel,omitempty"`
	DefaultStore string   `json:"defaultStore"`
}

func toMaterialResponse(m Material) materialResponse {
	resp := materialResponse{
		ID:           m.ID,
		Code:         m.Code,
		Name:         m.Name,
		Unit:         m.Unit,
		Category:     m.Category,
		DefaultStore: m.DefaultStore,
	}
	if m.ReorderLevel.Valid {
		level := m.ReorderLevel.Decimal.InexactFloat64()
		resp.ReorderLevel = &level
	}
	return resp
}

func reorderLevelFromRequest(raw *float64) decimal.NullDecimal {
	if raw == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(*raw), Valid: true}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	materials, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list materials", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]materialResponse, 0, len(materials))
	for _, m := range materials {
		out = append(out, toMaterialResponse(m))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "material id must be numeric")
		return
	}
	material, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMaterialResponse(*material))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req materialRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	id, err := h.service.Create(r.Context(), Material{
		Code:         req.Code,
		Name:         req.Name,
		Unit:         req.Unit,
		Category:     req.Category,
		ReorderLevel: reorderLevelFromRequest(req.ReorderLevel),
		DefaultStore: req.DefaultStore,
	})
	if err != nil {
		if !errors.Is(err, shared.ErrDuplicate) {
			h.logger.Error("create material", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "material id must be numeric")
		return
	}
	var req materialRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Update(r.Context(), Material{
		ID:           id,
		Name:         req.Name,
		Unit:         req.Unit,
		Category:     req.Category,
		ReorderLevel: reorderLevelFromRequest(req.ReorderLevel),
		DefaultStore: req.DefaultStore,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	projectID, materialID, ok := h.linkIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.LinkMaterial(r.Context(), projectID, materialID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unlink(w http.ResponseWriter, r *http.Request) {
	projectID, materialID, ok := h.linkIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.UnlinkMaterial(r.Context(), projectID, materialID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) linkIDs(w http.ResponseWriter, r *http.Request) (projectID, materialID int64, ok bool) {
	var err error
	projectID, err = strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "project id must be numeric")
		return 0, 0, false
	}
	materialID, err = strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "material id must be numeric")
		return 0, 0, false
	}
	return projectID, materialID, true
}
