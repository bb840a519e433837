// Package handler содержит HTTP-обработчики API движка расчётов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/freight-settlement/internal/middleware"
	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/payout"
	"github.com/mmeshcher/freight-settlement/internal/settlement"
	"github.com/mmeshcher/freight-settlement/internal/shipment"
	"github.com/mmeshcher/freight-settlement/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateShipment(ctx context.Context, caller model.Caller, p shipment.CreateParams) (*model.Shipment, error)
	GetShipment(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Shipment, error)
	ListBids(ctx context.Context, caller model.Caller, shipmentID uuid.UUID) ([]model.Bid, error)
	SubmitBid(ctx context.Context, caller model.Caller, shipmentID uuid.UUID, driverID *uuid.UUID, amount decimal.Decimal, message string) (*model.Bid, error)
	AcceptBid(ctx context.Context, caller model.Caller, bidID uuid.UUID) (*settlement.AcceptResult, error)
	DeleteBid(ctx context.Context, caller model.Caller, bidID uuid.UUID) error
	TransitionShipmentStatus(ctx context.Context, caller model.Caller, shipmentID uuid.UUID, status model.ShipmentStatus) (*settlement.TransitionResult, error)
	GetBalance(ctx context.Context, caller model.Caller) (decimal.Decimal, error)
	GetTransactions(ctx context.Context, caller model.Caller, limit int) ([]model.WalletTransaction, error)
	Withdraw(ctx context.Context, caller model.Caller, amount decimal.Decimal, dest payout.BankAccount) (*payout.Withdrawal, error)
	Deposit(ctx context.Context, caller model.Caller, accountID uuid.UUID, amount decimal.Decimal, externalID string) (*model.WalletTransaction, error)
}

// Handler реализует HTTP-обработчики API движка расчётов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metrics может быть nil, тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, metrics http.Handler) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metrics,
	}
}

type createShipmentRequest struct {
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	WeightKg      float64         `json:"weightKg"`
	EstimatedCost decimal.Decimal `json:"estimatedCost"`
}

// CreateShipment размещает новую отправку.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Origin == "" || req.Destination == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s, err := h.service.CreateShipment(r.Context(), caller, shipment.CreateParams{
		Origin:        req.Origin,
		Destination:   req.Destination,
		WeightKg:      req.WeightKg,
		EstimatedCost: req.EstimatedCost,
	})
	if err != nil {
		h.writeError(w, "create shipment error", err)
		return
	}

	writeJSON(w, http.StatusCreated, newShipmentResponse(s))
}

// GetShipment возвращает отправку.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	s, err := h.service.GetShipment(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, "get shipment error", err)
		return
	}

	writeJSON(w, http.StatusOK, newShipmentResponse(s))
}

type submitBidRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Message  string          `json:"message"`
	DriverID *uuid.UUID      `json:"driverId,omitempty"`
}

// SubmitBid подаёт ставку на отправку.
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	shipmentID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req submitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !validation.IsValidMoney(req.Amount) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	b, err := h.service.SubmitBid(r.Context(), caller, shipmentID, req.DriverID, req.Amount, req.Message)
	if err != nil {
		h.writeError(w, "submit bid error", err)
		return
	}

	writeJSON(w, http.StatusCreated, newBidResponse(b))
}

// ListBids возвращает ставки по отправке.
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	shipmentID, ok := pathID(w, r)
	if !ok {
		return
	}

	bids, err := h.service.ListBids(r.Context(), caller, shipmentID)
	if err != nil {
		h.writeError(w, "list bids error", err)
		return
	}

	if len(bids) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bidResponse, 0, len(bids))
	for i := range bids {
		resp = append(resp, newBidResponse(&bids[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AcceptBid принимает ставку и проводит первый этап оплаты.
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	bidID, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := h.service.AcceptBid(r.Context(), caller, bidID)
	if err != nil {
		h.writeError(w, "accept bid error", err)
		return
	}

	writeJSON(w, http.StatusOK, acceptResponse{
		Bid:            newBidResponse(res.Bid),
		Shipment:       newShipmentResponse(res.Shipment),
		OverageDebited: res.OverageDebited,
		RejectedBids:   res.Rejected,
		Settlement:     newStageResponse(res.Credit),
	})
}

// DeleteBid отзывает ожидающую ставку.
func (h *Handler) DeleteBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	bidID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteBid(r.Context(), caller, bidID); err != nil {
		h.writeError(w, "delete bid error", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateShipmentStatus меняет статус отправки. Ошибка выплаты этапа не
// отменяет смену статуса и возвращается в поле settlementError.
func (h *Handler) UpdateShipmentStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	shipmentID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.TransitionShipmentStatus(r.Context(), caller, shipmentID, model.ShipmentStatus(req.Status))
	if err != nil {
		h.writeError(w, "update shipment status error", err)
		return
	}

	resp := transitionResponse{
		Shipment:          newShipmentResponse(res.Shipment),
		PreviousStatus:    string(res.Change.Previous),
		SettlementApplied: res.SettlementApplied(),
		Settlements:       make([]stageResponse, 0, len(res.Settlements)),
	}
	for _, s := range res.Settlements {
		resp.Settlements = append(resp.Settlements, newStageResponse(s))
	}
	if res.SettlementErr != nil {
		resp.SettlementError = "payment could not be completed, retry the status update"
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetBalance возвращает баланс кошелька текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), caller)
	if err != nil {
		h.writeError(w, "get balance error", err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Current: balance})
}

// GetTransactions возвращает историю кошелька текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = n
	}

	txs, err := h.service.GetTransactions(r.Context(), caller, limit)
	if err != nil {
		h.writeError(w, "get transactions error", err)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		resp = append(resp, newTransactionResponse(&txs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type withdrawRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"accountNumber"`
	BankCode      string          `json:"bankCode"`
	HolderName    string          `json:"holderName"`
}

// Withdraw выводит средства на банковский счёт.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.AccountNumber == "" || req.BankCode == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !validation.IsValidMoney(req.Amount) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	res, err := h.service.Withdraw(r.Context(), caller, req.Amount, payout.BankAccount{
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		HolderName:    req.HolderName,
	})
	if err != nil {
		h.writeError(w, "withdraw error", err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawalResponse{
		TransactionID:     res.TransactionID,
		Amount:            res.Amount,
		ProviderReference: res.ProviderReference,
		Status:            res.Status,
	})
}

type depositRequest struct {
	AccountID  uuid.UUID       `json:"accountId"`
	Amount     decimal.Decimal `json:"amount"`
	ExternalID string          `json:"externalId"`
}

// Deposit фиксирует поступление средств от платёжного шлюза.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.AccountID == uuid.Nil || req.ExternalID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !validation.IsValidMoney(req.Amount) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	t, err := h.service.Deposit(r.Context(), caller, req.AccountID, req.Amount, req.ExternalID)
	if err != nil {
		h.writeError(w, "deposit error", err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransactionResponse(t))
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// domainErrors сопоставляет доменные ошибки HTTP-статусам. Клиент получает
// только текст самой ошибки из таблицы, без обёрток с внутренними деталями.
var domainErrors = []struct {
	err    error
	status int
}{
	{model.ErrInvalidStatus, http.StatusBadRequest},
	{model.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{model.ErrInvalidBidder, http.StatusUnprocessableEntity},
	{model.ErrForbidden, http.StatusForbidden},
	{model.ErrNotFound, http.StatusNotFound},
	{model.ErrInsufficientFunds, http.StatusPaymentRequired},
	{model.ErrDuplicateBid, http.StatusConflict},
	{model.ErrBidNotPending, http.StatusConflict},
	{model.ErrShipmentNotBiddable, http.StatusConflict},
	{model.ErrCarrierAlreadyAssigned, http.StatusConflict},
	{model.ErrNotDeletable, http.StatusConflict},
	{model.ErrInvalidTransition, http.StatusConflict},
	{model.ErrDuplicateReference, http.StatusConflict},
	{payout.ErrNotConfigured, http.StatusServiceUnavailable},
}

// classify возвращает статус и публичное сообщение. Ноль означает внутреннюю ошибку.
func classify(err error) (int, string) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.status, d.err.Error()
		}
	}
	return 0, ""
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status, public := classify(err)
	if status == 0 {
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Error(w, public, status)
}
