// Package handler содержит HTTP-обработчики API сервиса лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/smokeeat/loyalty-system/internal/catalog"
	"github.com/smokeeat/loyalty-system/internal/ledger"
	"github.com/smokeeat/loyalty-system/internal/middleware"
	"github.com/smokeeat/loyalty-system/internal/model"
	"github.com/smokeeat/loyalty-system/internal/repository"
	"github.com/smokeeat/loyalty-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, email, password, referralCode string) (*model.User, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	VerifyEmail(ctx context.Context, token string) error
	RecoverPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	RecordPurchase(ctx context.Context, userID string, amount int64, idempotencyKey, paymentMethod *string) (*repository.PurchaseResult, error)
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)
	ListLedgerEvents(ctx context.Context, userID string) ([]model.LedgerEvent, error)
	ListRewardTiers() []model.RewardTier
	Redeem(ctx context.Context, userID, tierCode string) (*model.Redemption, model.RewardTier, error)
	ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error)
	ListRedemptions(ctx context.Context) ([]model.Redemption, error)
	CompleteRedemption(ctx context.Context, id string) (*model.Redemption, error)
	CancelRedemption(ctx context.Context, id string) (*model.Redemption, error)
	SendTestEmail(ctx context.Context, to string) error
}

// Handler реализует HTTP-обработчики API сервиса лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeJSONError отвечает телом вида {"error":"код"}, пригодным для
// программной обработки на клиенте.
func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

type userResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	Points         int64  `json:"points"`
	SpendRemainder int64  `json:"spendRemainder"`
	ReferralCode   string `json:"referralCode"`
	EmailVerified  bool   `json:"emailVerified"`
	CreatedAt      string `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Role:           string(u.Role),
		Points:         u.Points,
		SpendRemainder: u.SpendRemainder,
		ReferralCode:   u.ReferralCode,
		EmailVerified:  u.EmailVerifiedAt != nil,
		CreatedAt:      u.CreatedAt.Format(time.RFC3339),
	}
}

type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referralCode"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.ReferralCode)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			writeJSONError(w, http.StatusConflict, "email_in_use")
		case errors.Is(err, service.ErrInvalidEmail):
			writeJSONError(w, http.StatusBadRequest, "invalid_email")
		case errors.Is(err, service.ErrDisposableEmail):
			writeJSONError(w, http.StatusBadRequest, "disposable_email")
		case errors.Is(err, service.ErrWeakPassword):
			writeJSONError(w, http.StatusBadRequest, "weak_password")
		default:
			h.logger.Error("register user error", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":   true,
		"user": toUserResponse(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и выпускает bearer-токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeJSONError(w, http.StatusUnauthorized, "invalid_credentials")
		case errors.Is(err, service.ErrEmailUnverified):
			writeJSONError(w, http.StatusBadRequest, "email_unverified")
		default:
			h.logger.Error("login user error", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	token := h.authMiddleware.IssueToken(user.ID, user.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  toUserResponse(user),
	})
}

// VerifyEmail подтверждает почту по токену из ссылки в письме.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_or_expired")
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			writeJSONError(w, http.StatusBadRequest, "invalid_or_expired")
			return
		}
		h.logger.Error("verify email error", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type recoverRequest struct {
	Email string `json:"email"`
}

// RecoverPassword инициирует сброс пароля. Ответ не раскрывает,
// зарегистрирован ли адрес.
func (h *Handler) RecoverPassword(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if err := h.service.RecoverPassword(r.Context(), req.Email); err != nil {
		h.logger.Error("recover password error", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword устанавливает новый пароль по токену сброса.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, repository.ErrTokenNotFound):
			writeJSONError(w, http.StatusBadRequest, "invalid_or_expired")
		case errors.Is(err, service.ErrWeakPassword):
			writeJSONError(w, http.StatusBadRequest, "weak_password")
		default:
			h.logger.Error("reset password error", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GetMe возвращает профиль текущего пользователя.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error("get user error", zap.Error(err), zap.String("userID", userID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

// ListRewardTiers возвращает каталог вознаграждений. Доступен без авторизации.
func (h *Handler) ListRewardTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tiers": h.service.ListRewardTiers()})
}

// GetRewardsMe возвращает баланс и журнал операций текущего пользователя.
func (h *Handler) GetRewardsMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.String("userID", userID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	events, err := h.service.ListLedgerEvents(r.Context(), userID)
	if err != nil {
		h.logger.Error("list ledger events error", zap.Error(err), zap.String("userID", userID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := make([]ledgerEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toLedgerEventResponse(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"points":         balance.Points,
		"spendRemainder": balance.SpendRemainder,
		"events":         resp,
	})
}

type ledgerEventResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	PointsDelta   int64  `json:"pointsDelta"`
	Amount        *int64 `json:"amount,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	RewardCode    string `json:"rewardCode,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

func toLedgerEventResponse(e model.LedgerEvent) ledgerEventResponse {
	resp := ledgerEventResponse{
		ID:          e.ID,
		Kind:        string(e.Kind),
		PointsDelta: e.PointsDelta,
		Amount:      e.Amount,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.PaymentMethod != nil {
		resp.PaymentMethod = *e.PaymentMethod
	}
	if e.RewardCode != nil {
		resp.RewardCode = *e.RewardCode
	}
	return resp
}

type purchaseRequest struct {
	Amount         int64   `json:"amount"`
	IdempotencyKey *string `json:"idempotencyKey"`
	PaymentMethod  *string `json:"paymentMethod"`
}

// EarnPurchase начисляет баллы за покупку текущего пользователя.
func (h *Handler) EarnPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	result, err := h.service.RecordPurchase(r.Context(), userID, req.Amount, req.IdempotencyKey, req.PaymentMethod)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeJSONError(w, http.StatusBadRequest, "invalid_amount")
			return
		}
		h.logger.Error("record purchase error", zap.Error(err),
			zap.String("userID", userID), zap.Int64("amount", req.Amount))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := map[string]any{
		"ok":             true,
		"earned":         result.PointsAwarded,
		"spendRemainder": result.RemainderAfter,
	}
	if result.Duplicate {
		resp["duplicate"] = true
	}

	writeJSON(w, http.StatusOK, resp)
}

type redemptionResponse struct {
	ID          string `json:"id"`
	RewardCode  string `json:"rewardCode"`
	PointsCost  int64  `json:"pointsCost"`
	VoucherCode string `json:"voucherCode"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
}

func toRedemptionResponse(red *model.Redemption) redemptionResponse {
	return redemptionResponse{
		ID:          red.ID,
		RewardCode:  red.RewardCode,
		PointsCost:  red.PointsCost,
		VoucherCode: red.VoucherCode,
		Status:      string(red.Status),
		CreatedAt:   red.CreatedAt.Format(time.RFC3339),
	}
}

type redeemRequest struct {
	TierCode string `json:"tierCode"`
}

// Redeem списывает баллы текущего пользователя в обмен на вознаграждение.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TierCode == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	red, _, err := h.service.Redeem(r.Context(), userID, req.TierCode)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrTierNotFound):
			writeJSONError(w, http.StatusNotFound, "tier_not_found")
		case errors.Is(err, repository.ErrInsufficientBalance):
			writeJSONError(w, http.StatusBadRequest, "insufficient_points")
		default:
			h.logger.Error("redeem error", zap.Error(err),
				zap.String("userID", userID), zap.String("tier", req.TierCode))
			writeJSONError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"voucherCode": red.VoucherCode,
		"redemption":  toRedemptionResponse(red),
	})
}

// ListMyRedemptions возвращает заявки на обмен текущего пользователя.
func (h *Handler) ListMyRedemptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	reds, err := h.service.ListRedemptionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list redemptions error", zap.Error(err), zap.String("userID", userID))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := make([]redemptionResponse, 0, len(reds))
	for i := range reds {
		resp = append(resp, toRedemptionResponse(&reds[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{"redemptions": resp})
}

// requireAdmin пропускает запрос дальше, только если роль пользователя в
// хранилище — admin. Роль из токена не считается достаточной: её могли
// выпустить до понижения прав.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		isAdmin, err := h.service.IsAdmin(r.Context(), userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			h.logger.Error("check admin role error", zap.Error(err), zap.String("userID", userID))
			writeJSONError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if !isAdmin {
			writeJSONError(w, http.StatusForbidden, "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ListAllRedemptions возвращает все заявки системы (для администратора).
func (h *Handler) ListAllRedemptions(w http.ResponseWriter, r *http.Request) {
	reds, err := h.service.ListRedemptions(r.Context())
	if err != nil {
		h.logger.Error("list all redemptions error", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	type adminRedemptionResponse struct {
		redemptionResponse
		UserID string `json:"userId"`
	}

	resp := make([]adminRedemptionResponse, 0, len(reds))
	for i := range reds {
		resp = append(resp, adminRedemptionResponse{
			redemptionResponse: toRedemptionResponse(&reds[i]),
			UserID:             reds[i].UserID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"redemptions": resp})
}

func (h *Handler) updateRedemption(w http.ResponseWriter, r *http.Request, id string,
	update func(context.Context, string) (*model.Redemption, error)) {
	red, err := update(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRedemptionNotFound):
			writeJSONError(w, http.StatusNotFound, "not_found")
		case errors.Is(err, repository.ErrInvalidState):
			writeJSONError(w, http.StatusBadRequest, "invalid_state")
		default:
			h.logger.Error("update redemption error", zap.Error(err), zap.String("id", id))
			writeJSONError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"redemption": toRedemptionResponse(red),
	})
}

type testEmailRequest struct {
	To string `json:"to"`
}

// SendTestEmail отправляет пробное письмо для проверки почтовых настроек.
func (h *Handler) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if err := h.service.SendTestEmail(r.Context(), req.To); err != nil {
		h.logger.Error("send test email error", zap.Error(err), zap.String("to", req.To))
		writeJSONError(w, http.StatusBadGateway, "mail_delivery_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
