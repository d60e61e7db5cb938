// Package handler exposes the bond service over HTTP. Every route requires a
// bearer token; its subject is the caller.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bondledger/internal/bond/service"
	"bondledger/internal/platform/metrics"
	"bondledger/internal/platform/middleware"
	"bondledger/internal/reconcile"
	"bondledger/internal/series/models"
	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
	"bondledger/pkg/platform/httputil"
	authmw "bondledger/pkg/platform/middleware/auth"
	"bondledger/pkg/platform/middleware/metadata"
	request "bondledger/pkg/platform/middleware/request"
	"bondledger/pkg/platform/middleware/requesttime"
	"bondledger/pkg/requestcontext"
)

// Service is the subset of the bond service the handler drives.
type Service interface {
	CreateSeries(ctx context.Context, caller domain.CallerID, req service.CreateSeriesRequest) (*models.Series, error)
	Deactivate(ctx context.Context, caller domain.CallerID, id domain.SeriesID) (*models.Series, error)
	Reactivate(ctx context.Context, caller domain.CallerID, id domain.SeriesID) (*models.Series, error)
	GetSeries(ctx context.Context, id domain.SeriesID) (*models.Series, error)
	ListSeries(ctx context.Context) ([]*models.Series, error)
	Purchase(ctx context.Context, caller domain.CallerID, id domain.SeriesID, principal uint64) (*service.Receipt, error)
	PurchaseLot(ctx context.Context, caller domain.CallerID, id domain.SeriesID, value uint64) (*service.LotReceipt, error)
	Redeem(ctx context.Context, caller domain.CallerID, claim service.Claim) (*service.Redemption, error)
	BalanceOf(ctx context.Context, id domain.SeriesID, holder domain.CallerID) (uint64, error)
	TotalIssued(ctx context.Context, id domain.SeriesID) (uint64, error)
	InvestmentsOf(ctx context.Context, holder domain.CallerID) (*service.Investments, error)
	Supply(ctx context.Context, id domain.SeriesID) (*service.SupplyReport, error)
	Owner(ctx context.Context) (domain.CallerID, error)
	TransferOwnership(ctx context.Context, caller, newOwner domain.CallerID) error
	OpenReconciliations(ctx context.Context, caller domain.CallerID) ([]*reconcile.Entry, error)
	ResolveReconciliation(ctx context.Context, caller domain.CallerID, id uuid.UUID) (*reconcile.Entry, error)
}

// Collateral is the in-process collateral ledger. Only the owner may credit
// accounts through the API.
type Collateral interface {
	Credit(account domain.CallerID, value uint64) error
	BalanceOf(account domain.CallerID) uint64
}

// Handler handles bond ledger endpoints.
type Handler struct {
	logger       *slog.Logger
	bonds        Service
	collateral   Collateral
	metrics      *metrics.Metrics
	jwtValidator authmw.JWTValidator
	rateLimit    func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithRateLimit installs a limiter that runs after authentication so it can
// key on the caller.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.rateLimit = mw }
}

// New creates a new bond Handler. collateral may be nil when an external
// gateway holds the funds.
func New(
	bonds Service,
	collateral Collateral,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator authmw.JWTValidator,
	opts ...Option) *Handler {
	h := &Handler{
		logger:       logger,
		bonds:        bonds,
		collateral:   collateral,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the bond routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	bondRouter := chi.NewRouter()
	bondRouter.Use(request.Recovery(h.logger))
	bondRouter.Use(request.RequestID)
	bondRouter.Use(metadata.ClientMetadata)
	bondRouter.Use(request.Logger(h.logger))
	bondRouter.Use(requesttime.Middleware)
	bondRouter.Use(request.ContentTypeJSON)
	bondRouter.Use(middleware.LatencyMiddleware(h.metrics))
	bondRouter.Use(authmw.RequireAuth(h.jwtValidator, h.logger))
	if h.rateLimit != nil {
		bondRouter.Use(h.rateLimit)
	}

	bondRouter.Post("/series", h.handleCreateSeries)
	bondRouter.Get("/series", h.handleListSeries)
	bondRouter.Get("/series/{id}", h.handleGetSeries)
	bondRouter.Post("/series/{id}/deactivate", h.handleDeactivate)
	bondRouter.Post("/series/{id}/reactivate", h.handleReactivate)
	bondRouter.Post("/series/{id}/purchase", h.handlePurchase)
	bondRouter.Post("/series/{id}/lots", h.handlePurchaseLot)
	bondRouter.Post("/series/{id}/redeem", h.handleRedeemBalance)
	bondRouter.Get("/series/{id}/balances/{holder}", h.handleBalanceOf)
	bondRouter.Get("/series/{id}/total-issued", h.handleTotalIssued)
	bondRouter.Get("/series/{id}/supply", h.handleSupply)
	bondRouter.Post("/lots/{index}/redeem", h.handleRedeemLot)
	bondRouter.Get("/investments", h.handleInvestments)
	bondRouter.Get("/owner", h.handleOwner)
	bondRouter.Post("/owner/transfer", h.handleTransferOwnership)
	bondRouter.Get("/reconciliation", h.handleOpenReconciliations)
	bondRouter.Post("/reconciliation/{id}/resolve", h.handleResolveReconciliation)
	if h.collateral != nil {
		bondRouter.Post("/collateral/credit", h.handleCreditCollateral)
		bondRouter.Get("/collateral/{account}", h.handleCollateralBalance)
	}

	r.Mount("/", bondRouter)
}

func (h *Handler) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateSeriesRequest
	if !h.decode(w, r, &req) {
		return
	}
	createReq, err := req.toService()
	if err != nil {
		h.writeError(ctx, w, "create series", err)
		return
	}
	series, err := h.bonds.CreateSeries(ctx, requestcontext.Caller(ctx), createReq)
	if err != nil {
		h.writeError(ctx, w, "create series", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toSeriesResponse(series))
}

func (h *Handler) handleListSeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.bonds.ListSeries(ctx)
	if err != nil {
		h.writeError(ctx, w, "list series", err)
		return
	}
	out := make([]SeriesResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSeriesResponse(s))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	series, err := h.bonds.GetSeries(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "get series", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSeriesResponse(series))
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.bonds.Deactivate, "deactivate series")
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.bonds.Reactivate, "reactivate series")
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.CallerID, domain.SeriesID) (*models.Series, error), op string) {
	ctx := r.Context()
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	series, err := fn(ctx, requestcontext.Caller(ctx), id)
	if err != nil {
		h.writeError(ctx, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSeriesResponse(series))
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.bonds.Purchase(ctx, requestcontext.Caller(ctx), id, req.Principal)
	if err != nil {
		h.writeError(ctx, w, "purchase", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) handlePurchaseLot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.bonds.PurchaseLot(ctx, requestcontext.Caller(ctx), id, req.Principal)
	if err != nil {
		h.writeError(ctx, w, "purchase lot", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleRedeemBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	var req RedeemRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	h.redeem(w, r, service.BalanceClaim{SeriesID: id, Amount: req.Amount})
}

func (h *Handler) handleRedeemLot(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		h.writeError(r.Context(), w, "redeem lot", dErrors.New(dErrors.CodeBadRequest, "lot index must be a non-negative integer"))
		return
	}
	h.redeem(w, r, service.LotClaim{Index: index})
}

func (h *Handler) redeem(w http.ResponseWriter, r *http.Request, claim service.Claim) {
	ctx := r.Context()
	redemption, err := h.bonds.Redeem(ctx, requestcontext.Caller(ctx), claim)
	if err != nil {
		h.writeError(ctx, w, "redeem", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, redemption)
}

func (h *Handler) handleBalanceOf(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	holder := domain.CallerID(chi.URLParam(r, "holder"))
	balance, err := h.bonds.BalanceOf(ctx, id, holder)
	if err != nil {
		h.writeError(ctx, w, "balance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse{SeriesID: id, Holder: holder, Balance: balance})
}

func (h *Handler) handleTotalIssued(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	issued, err := h.bonds.TotalIssued(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "total issued", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TotalIssuedResponse{SeriesID: id, TotalIssued: issued})
}

func (h *Handler) handleSupply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.seriesID(w, r)
	if !ok {
		return
	}
	report, err := h.bonds.Supply(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "supply", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// handleInvestments lists the caller's own lots, or another investor's via
// ?investor=.
func (h *Handler) handleInvestments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	investor := requestcontext.Caller(ctx)
	if q := r.URL.Query().Get("investor"); q != "" {
		investor = domain.CallerID(q)
	}
	inv, err := h.bonds.InvestmentsOf(ctx, investor)
	if err != nil {
		h.writeError(ctx, w, "investments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, err := h.bonds.Owner(ctx)
	if err != nil {
		h.writeError(ctx, w, "owner", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, OwnerResponse{Owner: owner})
}

func (h *Handler) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req TransferOwnershipRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.bonds.TransferOwnership(ctx, requestcontext.Caller(ctx), req.NewOwner); err != nil {
		h.writeError(ctx, w, "transfer ownership", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, OwnerResponse{Owner: req.NewOwner})
}

func (h *Handler) handleOpenReconciliations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.bonds.OpenReconciliations(ctx, requestcontext.Caller(ctx))
	if err != nil {
		h.writeError(ctx, w, "list reconciliation entries", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ReconciliationResponse{Entries: entries})
}

func (h *Handler) handleResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "parse reconciliation id", dErrors.New(dErrors.CodeInvalidParameter, "reconciliation id must be a uuid"))
		return
	}
	entry, err := h.bonds.ResolveReconciliation(ctx, requestcontext.Caller(ctx), id)
	if err != nil {
		h.writeError(ctx, w, "resolve reconciliation entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCreditCollateral(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	owner, err := h.bonds.Owner(ctx)
	if err != nil {
		h.writeError(ctx, w, "credit collateral", err)
		return
	}
	if requestcontext.Caller(ctx) != owner {
		h.writeError(ctx, w, "credit collateral", dErrors.New(dErrors.CodeUnauthorized, "caller is not the owner"))
		return
	}
	if err := h.collateral.Credit(req.Account, req.Amount); err != nil {
		h.writeError(ctx, w, "credit collateral", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CollateralResponse{Account: req.Account, Balance: h.collateral.BalanceOf(req.Account)})
}

func (h *Handler) handleCollateralBalance(w http.ResponseWriter, r *http.Request) {
	account := domain.CallerID(chi.URLParam(r, "account"))
	httputil.WriteJSON(w, http.StatusOK, CollateralResponse{Account: account, Balance: h.collateral.BalanceOf(account)})
}

func (h *Handler) seriesID(w http.ResponseWriter, r *http.Request) (domain.SeriesID, bool) {
	id, err := domain.ParseSeriesID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r.Context(), w, "parse series id", err)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.logger.WarnContext(r.Context(), "invalid request body",
			"request_id", request.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

// writeError logs server-side failures at error level and client mistakes at
// warn, then renders the coded response.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	requestID := request.GetRequestID(ctx)
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "failed to "+op,
			"request_id", requestID,
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, op+" rejected",
			"request_id", requestID,
			"code", string(dErrors.CodeOf(err)),
		)
	}
	httputil.WriteError(w, err)
}
