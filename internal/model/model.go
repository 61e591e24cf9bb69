// Package model содержит доменные сущности сервиса лояльности.
package model

import "time"

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User представляет зарегистрированного участника программы лояльности.
type User struct {
	ID              string
	Email           string
	PasswordHash    []byte
	Role            Role
	Points          int64
	SpendRemainder  int64
	ReferralCode    string
	ReferredByID    *string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EventKind описывает тип события в журнале баллов.
type EventKind string

const (
	EventKindPurchase      EventKind = "purchase"
	EventKindReferralBonus EventKind = "referral_bonus"
	EventKindRedeem        EventKind = "redeem"
)

// LedgerEvent описывает одну неизменяемую запись журнала изменений баланса.
type LedgerEvent struct {
	ID              string
	UserID          string
	Kind            EventKind
	PointsDelta     int64
	Amount          *int64
	RemainderBefore *int64
	RemainderAfter  *int64
	PaymentMethod   *string
	RewardCode      *string
	IdempotencyKey  *string
	CreatedAt       time.Time
}

// RewardTier описывает позицию каталога вознаграждений.
type RewardTier struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CostPoints  int64  `json:"costPoints"`
	Priority    int    `json:"priority"`
}

// RedemptionStatus описывает статус заявки на обмен баллов.
type RedemptionStatus string

const (
	RedemptionStatusPending   RedemptionStatus = "PENDING"
	RedemptionStatusCompleted RedemptionStatus = "COMPLETED"
	RedemptionStatusCancelled RedemptionStatus = "CANCELLED"
)

// Redemption описывает обмен баллов на вознаграждение из каталога.
type Redemption struct {
	ID          string
	UserID      string
	RewardCode  string
	PointsCost  int64
	VoucherCode string
	Status      RedemptionStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VerificationToken описывает одноразовый токен подтверждения почты или сброса пароля.
type VerificationToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Balance содержит текущее состояние бонусного счёта пользователя.
type Balance struct {
	Points         int64 `json:"points"`
	SpendRemainder int64 `json:"spendRemainder"`
}
