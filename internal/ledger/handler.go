package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/platform/httpx"
	"github.com/sitestock/sitestock/internal/shared"
)

// MaterialGateway is the slice of the materials module the ledger
// handlers need: the scope resolver's linkage check and the reorder
// threshold used for low-stock alerts.
type MaterialGateway interface {
	EnsureLinked(ctx context.Context, projectID, materialID int64) error
	ReorderLevel(ctx context.Context, materialID int64) (decimal.Decimal, error)
}

// StockAlert describes an on-hand balance that fell below the reorder
// level after an issue.
type StockAlert struct {
	Scope        Scope
	MaterialID   int64
	OnHand       decimal.Decimal
	ReorderLevel decimal.Decimal
}

// AlertSink receives stock alerts for asynchronous delivery.
type AlertSink interface {
	Notify(ctx context.Context, alert StockAlert) error
}

// MovementCounter records movement throughput for monitoring.
type MovementCounter interface {
	CountMovement(direction string)
}

// Handler wires the ledger HTTP endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	materials   MaterialGateway
	alerts      AlertSink
	idempotency *shared.IdempotencyStore
	movements   MovementCounter
	validate    *validator.Validate
}

// NewHandler constructs the ledger handler. Alerts, idempotency and
// movements may be nil, disabling the respective behavior.
func NewHandler(logger *slog.Logger, service *Service, materials MaterialGateway, alerts AlertSink, idempotency *shared.IdempotencyStore, movements MovementCounter) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		materials:   materials,
		alerts:      alerts,
		idempotency: idempotency,
		movements:   movements,
		validate:    shared.Validator(),
	}
}

func (h *Handler) countMovement(direction string) {
	if h.movements != nil {
		h.movements.CountMovement(direction)
	}
}

// MountProjectRoutes registers the project-scoped ledger routes,
// relative to the projects subtree. Role gating happens in the router,
// not here.
func (h *Handler) MountProjectRoutes(r chi.Router) {
	r.Post("/{projectID}/materials/{materialID}/inwards", h.handleProjectInward)
	r.Post("/{projectID}/materials/{materialID}/outwards", h.handleProjectOutward)
	r.Get("/{projectID}/materials/{materialID}", h.handleProjectMaterialDetail)
	r.Get("/{projectID}/stats", h.handleScopeStats)
}

// MountMaterialRoutes registers the general-store routes, relative to
// the materials subtree.
func (h *Handler) MountMaterialRoutes(r chi.Router) {
	r.Post("/{materialID}/inventory/inwards", h.handleGeneralInward)
	r.Post("/{materialID}/inventory/outwards", h.handleGeneralOutward)
	r.Get("/{materialID}/inventory", h.handleGeneralMaterialDetail)
}

// MountInventoryRoutes registers the cross-scope reporting routes.
func (h *Handler) MountInventoryRoutes(r chi.Router) {
	r.Get("/activity", h.handleActivity)
	r.Get("/analytics", h.handleAnalytics)
	r.Get("/report", h.handleReport)
}

func (h *Handler) handleProjectInward(w http.ResponseWriter, r *http.Request) {
	projectID, materialID, ok := h.pathIDs(w, r, true)
	if !ok {
		return
	}
	if err := h.materials.EnsureLinked(r.Context(), projectID, materialID); err != nil {
		h.respondError(w, err)
		return
	}
	h.recordInward(w, r, ScopeProject(projectID), materialID)
}

func (h *Handler) handleProjectOutward(w http.ResponseWriter, r *http.Request) {
	projectID, materialID, ok := h.pathIDs(w, r, true)
	if !ok {
		return
	}
	if err := h.materials.EnsureLinked(r.Context(), projectID, materialID); err != nil {
		h.respondError(w, err)
		return
	}
	h.recordOutward(w, r, ScopeProject(projectID), materialID)
}

func (h *Handler) handleGeneralInward(w http.ResponseWriter, r *http.Request) {
	_, materialID, ok := h.pathIDs(w, r, false)
	if !ok {
		return
	}
	h.recordInward(w, r, ScopeGeneral(), materialID)
}

func (h *Handler) handleGeneralOutward(w http.ResponseWriter, r *http.Request) {
	_, materialID, ok := h.pathIDs(w, r, false)
	if !ok {
		return
	}
	h.recordOutward(w, r, ScopeGeneral(), materialID)
}

func (h *Handler) recordInward(w http.ResponseWriter, r *http.Request, scope Scope, materialID int64) {
	var req recordInwardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	release, err := h.claimIdempotencyKey(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	movement, err := h.service.RecordReceipt(r.Context(), ReceiptInput{
		Scope:         scope,
		MaterialID:    materialID,
		Quantity:      req.Quantity,
		ReceivedAt:    req.ReceivedAt,
		BatchLabel:    req.BatchLabel,
		Weight:        req.WeightTons,
		Units:         req.UnitsCount,
		Supplier:      req.Supplier,
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   req.InvoiceDate,
		VehicleNumber: req.VehicleNumber,
		Reference:     req.Reference,
		Remarks:       req.Remarks,
		ActorID:       currentActorID(r),
	})
	if err != nil {
		release()
		h.respondError(w, err)
		return
	}
	h.countMovement("in")
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) recordOutward(w http.ResponseWriter, r *http.Request, scope Scope, materialID int64) {
	var req recordOutwardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	release, err := h.claimIdempotencyKey(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	movement, err := h.service.RecordIssue(r.Context(), IssueInput{
		Scope:         scope,
		MaterialID:    materialID,
		Quantity:      req.Quantity,
		IssuedAt:      req.IssuedAt,
		Weight:        req.WeightTons,
		Units:         req.UnitsCount,
		IssuedTo:      req.HandoverName,
		Designation:   req.Designation,
		StoreIncharge: req.StoreIncharge,
		HandoverDate:  req.HandoverDate,
		Reference:     req.Reference,
		Remarks:       req.Remarks,
		ActorID:       currentActorID(r),
	})
	if err != nil {
		release()
		h.respondError(w, err)
		return
	}

	h.countMovement("out")
	h.checkReorderLevel(r, scope, materialID)
	httpx.JSON(w, http.StatusCreated, toMovementResponse(movement))
}

func (h *Handler) handleProjectMaterialDetail(w http.ResponseWriter, r *http.Request) {
	projectID, materialID, ok := h.pathIDs(w, r, true)
	if !ok {
		return
	}
	if err := h.materials.EnsureLinked(r.Context(), projectID, materialID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMaterialDetail(w, r, ScopeProject(projectID), materialID)
}

func (h *Handler) handleGeneralMaterialDetail(w http.ResponseWriter, r *http.Request) {
	_, materialID, ok := h.pathIDs(w, r, false)
	if !ok {
		return
	}
	h.respondMaterialDetail(w, r, ScopeGeneral(), materialID)
}

func (h *Handler) respondMaterialDetail(w http.ResponseWriter, r *http.Request, scope Scope, materialID int64) {
	detail, err := h.service.GetMaterialDetail(r.Context(), scope, materialID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, materialDetailResponse{
		Stats:    toStatsResponse(detail.Stats),
		Inwards:  toMovementResponses(detail.Inwards),
		Outwards: toMovementResponses(detail.Outwards),
		History:  toMovementResponses(detail.History),
	})
}

func (h *Handler) handleScopeStats(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Project", "project id must be numeric")
		return
	}
	stats, err := h.service.GetScopeStats(r.Context(), ScopeProject(projectID))
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]statsResponse, 0, len(stats))
	for _, st := range stats {
		out = append(out, toStatsResponse(st))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r.URL.Query().Get("projectId"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Project", err.Error())
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Limit", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	movements, err := h.service.GetHistory(r.Context(), HistoryFilter{Scope: scope, Limit: limit})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponses(movements))
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.service.GetAnalytics(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAnalyticsResponse(analytics))
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r.URL.Query().Get("projectId"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Project", err.Error())
		return
	}
	report, err := h.service.GetMovementReport(r.Context(), scope)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementReportResponse{
		Movements: toMovementResponses(report.Movements),
		TotalIn:   report.TotalIn.InexactFloat64(),
		TotalOut:  report.TotalOut.InexactFloat64(),
	})
}

// checkReorderLevel fires a low-stock alert when the partition's
// on-hand balance dropped below the material's reorder level. Alert
// failures are logged, never surfaced to the caller.
func (h *Handler) checkReorderLevel(r *http.Request, scope Scope, materialID int64) {
	if h.alerts == nil || h.materials == nil {
		return
	}
	ctx := r.Context()
	level, err := h.materials.ReorderLevel(ctx, materialID)
	if err != nil || !level.IsPositive() {
		return
	}
	stats, err := h.service.GetStats(ctx, scope, materialID)
	if err != nil {
		h.logger.Warn("reorder check stats", slog.Any("error", err))
		return
	}
	if stats.CurrentStock.GreaterThanOrEqual(level) {
		return
	}
	alert := StockAlert{Scope: scope, MaterialID: materialID, OnHand: stats.CurrentStock, ReorderLevel: level}
	if err := h.alerts.Notify(ctx, alert); err != nil {
		h.logger.Warn("enqueue low stock alert",
			slog.Int64("material_id", materialID),
			slog.Any("error", err))
	}
}

// claimIdempotencyKey honors an optional Idempotency-Key header. The
// returned release func rolls the claim back when the operation fails.
func (h *Handler) claimIdempotencyKey(r *http.Request) (func(), error) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return func() {}, nil
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, "ledger"); err != nil {
		return nil, err
	}
	return func() {
		_ = h.idempotency.Delete(r.Context(), key)
	}, nil
}

func (h *Handler) pathIDs(w http.ResponseWriter, r *http.Request, wantProject bool) (projectID, materialID int64, ok bool) {
	var err error
	if wantProject {
		projectID, err = strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Project", "project id must be numeric")
			return 0, 0, false
		}
	}
	materialID, err = strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Material", "material id must be numeric")
		return 0, 0, false
	}
	return projectID, materialID, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", "quantity must be greater than zero")
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock",
			"insufficient stock, available "+insufficient.Available.StringFixed(quantityScale))
	case errors.Is(err, ErrInternalConsistency):
		h.logger.Error("ledger consistency failure", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	case errors.Is(err, shared.ErrNotLinked):
		httpx.Problem(w, http.StatusBadRequest, "Material Not Linked", "material is not linked with project")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this request was already processed")
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01"):
		httpx.Problem(w, http.StatusConflict, "Concurrent Update",
			"the movement conflicted with a concurrent one, retry the request")
	default:
		h.logger.Error("ledger operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// scopeFromQuery maps the optional projectId query parameter: empty
// means all scopes, "general" or "0" the general store, any other
// number a project scope.
func scopeFromQuery(raw string) (*Scope, error) {
	if raw == "" {
		return nil, nil
	}
	if raw == "general" {
		scope := ScopeGeneral()
		return &scope, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.New("projectId must be numeric or \"general\"")
	}
	if id == GeneralStoreID {
		scope := ScopeGeneral()
		return &scope, nil
	}
	scope := ScopeProject(id)
	return &scope, nil
}

func currentActorID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, _ := strconv.ParseInt(sess.User(), 10, 64)
	return id
}
