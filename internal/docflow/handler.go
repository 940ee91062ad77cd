package docflow

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklot/stocklot/internal/auth"
	"github.com/stocklot/stocklot/internal/platform/httpx"
	"github.com/stocklot/stocklot/internal/rbac"
	"github.com/stocklot/stocklot/internal/shared"
)

// Handler wires the document workflow endpoints. Routes follow
// /documents/{docType}/... with docType one of receipts, issues,
// transfers.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	auth      *auth.Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authService *auth.Service, mw rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		auth:      authService,
		rbac:      mw,
		validator: validator.New(),
	}
}

// MountRoutes registers workflow routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{docType}", func(r chi.Router) {
		r.With(h.rbac.RequireAny(rbac.PermDocsView)).Get("/", h.list)
		r.With(h.rbac.RequireAny(rbac.PermDocsView)).Get("/{id}", h.get)
		r.With(h.rbac.RequireAny(rbac.PermDocsCreate)).Post("/", h.create)
		r.With(h.rbac.RequireAny(rbac.PermDocsApprove)).Post("/{id}/approve", h.approve)
		r.With(h.rbac.RequireAny(rbac.PermDocsApprove)).Post("/{id}/cancel", h.cancel)
		r.With(h.rbac.RequireAny(rbac.PermDocsEdit)).Put("/{id}", h.update)
		r.With(h.rbac.RequireAny(rbac.PermDocsDelete)).Delete("/{id}", h.del)
	})
}

var pathDocTypes = map[string]DocType{
	"receipts":  DocTypeReceipt,
	"issues":    DocTypeIssue,
	"transfers": DocTypeTransfer,
}

func (h *Handler) docType(w http.ResponseWriter, r *http.Request) (DocType, bool) {
	docType, ok := pathDocTypes[chi.URLParam(r, "docType")]
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown document type")
	}
	return docType, ok
}

func (h *Handler) docID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document id")
		return 0, false
	}
	return id, true
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	userID, ok := h.rbac.CurrentUserID(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return auth.Actor{}, false
	}
	actor, err := h.auth.ActorFor(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return auth.Actor{}, false
	}
	return actor, true
}

type lineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       int64   `json:"qty" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	LotCode   string  `json:"lot_code" validate:"max=64"`
	Expiry    string  `json:"expiry_date"`
}

type documentRequest struct {
	WarehouseID     int64         `json:"warehouse_id" validate:"required,gt=0"`
	DestWarehouseID int64         `json:"dest_warehouse_id" validate:"gte=0"`
	CounterpartyID  int64         `json:"counterparty_id" validate:"gte=0"`
	Note            string        `json:"note" validate:"max=500"`
	Lines           []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (req documentRequest) toLines() ([]LineInput, error) {
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		var expiry *time.Time
		if l.Expiry != "" {
			parsed, err := time.Parse("2006-01-02", l.Expiry)
			if err != nil {
				return nil, fmt.Errorf("docflow: expiry date %q must be YYYY-MM-DD: %w", l.Expiry, shared.ErrValidation)
			}
			expiry = &parsed
		}
		lines = append(lines, LineInput{
			ProductID: l.ProductID,
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice,
			LotCode:   l.LotCode,
			Expiry:    expiry,
		})
	}
	return lines, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req *documentRequest) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		detail := "invalid document payload"
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			detail = fieldErrs[0].Error()
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", detail)
		return false
	}
	return true
}

type lineDTO struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Qty       int64   `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
	LotCode   *string `json:"lot_code"`
	Expiry    *string `json:"expiry_date"`
}

type documentDTO struct {
	ID              int64     `json:"id"`
	Type            string    `json:"type"`
	WarehouseID     int64     `json:"warehouse_id"`
	DestWarehouseID int64     `json:"dest_warehouse_id,omitempty"`
	CounterpartyID  int64     `json:"counterparty_id,omitempty"`
	CreatedBy       int64     `json:"created_by"`
	ApprovedBy      int64     `json:"approved_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Note            string    `json:"note"`
	Status          string    `json:"status"`
	TotalValue      float64   `json:"total_value"`
	Lines           []lineDTO `json:"lines,omitempty"`
}

func toDTO(doc Document, lines []Line) documentDTO {
	dto := documentDTO{
		ID:              doc.ID,
		Type:            string(doc.Type),
		WarehouseID:     doc.WarehouseID,
		DestWarehouseID: doc.DestWarehouseID,
		CounterpartyID:  doc.CounterpartyID,
		CreatedBy:       doc.CreatedBy,
		ApprovedBy:      doc.ApprovedBy,
		CreatedAt:       doc.CreatedAt,
		Note:            doc.Note,
		Status:          string(doc.Status),
		TotalValue:      doc.TotalValue,
	}
	for _, line := range lines {
		entry := lineDTO{
			ID:        line.ID,
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		}
		if line.Resolution.Resolved() {
			code := line.Resolution.LotCode()
			entry.LotCode = &code
			if exp := line.Resolution.Expiry(); exp != nil {
				formatted := exp.Format("2006-01-02")
				entry.Expiry = &formatted
			}
		}
		dto.Lines = append(dto.Lines, entry)
	}
	return dto
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		filter.Offset = offset
	}
	docs, err := h.service.List(r.Context(), docType, filter)
	if err != nil {
		h.logger.Error("list documents", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]documentDTO, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDTO(doc, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	doc, lines, err := h.service.Get(r.Context(), docType, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(doc, lines))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req documentRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines, err := req.toLines()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, docLines, err := h.service.Create(r.Context(), actor, CreateInput{
		Type:            docType,
		WarehouseID:     req.WarehouseID,
		DestWarehouseID: req.DestWarehouseID,
		CounterpartyID:  req.CounterpartyID,
		Note:            req.Note,
		Lines:           lines,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDTO(doc, docLines))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	doc, lines, err := h.service.Approve(r.Context(), actor, docType, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(doc, lines))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), actor, docType, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req documentRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines, err := req.toLines()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), actor, docType, id, UpdateInput{
		WarehouseID:     req.WarehouseID,
		DestWarehouseID: req.DestWarehouseID,
		CounterpartyID:  req.CounterpartyID,
		Note:            req.Note,
		Lines:           lines,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) del(w http.ResponseWriter, r *http.Request) {
	docType, ok := h.docType(w, r)
	if !ok {
		return
	}
	id, ok := h.docID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, docType, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
