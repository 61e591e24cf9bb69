// Package service реализует бизнес-логику сервиса лояльности.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/smokeeat/loyalty-system/internal/catalog"
	"github.com/smokeeat/loyalty-system/internal/ledger"
	"github.com/smokeeat/loyalty-system/internal/mailer"
	"github.com/smokeeat/loyalty-system/internal/model"
	"github.com/smokeeat/loyalty-system/internal/repository"
	"github.com/smokeeat/loyalty-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре почта/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailUnverified возвращается при входе с неподтверждённой почтой.
	ErrEmailUnverified = errors.New("email is not verified")
	// ErrInvalidEmail возвращается для синтаксически некорректного адреса.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrDisposableEmail возвращается для адресов одноразовых провайдеров.
	ErrDisposableEmail = errors.New("disposable email address")
	// ErrWeakPassword возвращается для слишком короткого пароля.
	ErrWeakPassword = errors.New("password is too short")
)

const (
	minPasswordLength    = 6
	referralCodeAttempts = 5
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
	mailSendTimeout      = 15 * time.Second
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, email string, passwordHash []byte, referralCode string, referredByID *string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	CreateEmailVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	CreatePasswordResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumeEmailVerificationToken(ctx context.Context, token string) error
	ConsumePasswordResetToken(ctx context.Context, token string, newPasswordHash []byte) error
	RecordPurchase(ctx context.Context, userID string, amount int64, rate ledger.Rate, referralBonus int64, idempotencyKey, paymentMethod *string) (*repository.PurchaseResult, error)
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)
	ListLedgerEvents(ctx context.Context, userID string) ([]model.LedgerEvent, error)
	CreateRedemption(ctx context.Context, userID string, tier model.RewardTier) (*model.Redemption, error)
	ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error)
	ListRedemptions(ctx context.Context) ([]model.Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, id string, status model.RedemptionStatus) (*model.Redemption, error)
}

// Options содержит параметры программы лояльности, фиксируемые при старте.
type Options struct {
	Rate          ledger.Rate
	ReferralBonus int64
	BaseURL       string
	// StrictEmailCheck включает отказ в регистрации для одноразовых доменов.
	StrictEmailCheck bool
}

// Service содержит бизнес-логику сервиса лояльности.
type Service struct {
	repo    Repository
	catalog *catalog.Catalog
	mailer  mailer.Mailer
	logger  *zap.Logger
	opts    Options
}

// NewService создаёт сервис с указанным репозиторием, каталогом и почтовым транспортом.
func NewService(repo Repository, cat *catalog.Catalog, m mailer.Mailer, logger *zap.Logger, opts Options) *Service {
	return &Service{
		repo:    repo,
		catalog: cat,
		mailer:  m,
		logger:  logger,
		opts:    opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Register регистрирует нового пользователя и отправляет письмо подтверждения.
// referralCode — необязательный код пригласившего; неизвестный код игнорируется.
func (s *Service) Register(ctx context.Context, email, password, referralCode string) (*model.User, error) {
	if !validation.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if s.opts.StrictEmailCheck && validation.IsDisposableEmail(email) {
		return nil, ErrDisposableEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var referredByID *string
	if referralCode != "" {
		referrer, err := s.repo.GetUserByReferralCode(ctx, referralCode)
		switch {
		case err == nil:
			referredByID = &referrer.ID
		case errors.Is(err, repository.ErrUserNotFound):
			// Неизвестный код не блокирует регистрацию.
		default:
			return nil, err
		}
	}

	var user *model.User
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		user, err = s.repo.CreateUser(ctx, email, hash, randomHex(4), referredByID)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrReferralCodeTaken) {
			continue
		}
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("allocate referral code: %w", err)
	}

	token := randomHex(20)
	if err := s.repo.CreateEmailVerificationToken(ctx, user.ID, token, time.Now().Add(verificationTokenTTL)); err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s/auth/verify-email?token=%s", s.opts.BaseURL, token)
	s.sendAsync(user.Email, "Confirmá tu email",
		fmt.Sprintf(`<p>Para activar tu cuenta, hacé click: <a href="%s">%s</a></p>`, link, link))

	return user, nil
}

// Authenticate проверяет пару почта/пароль и требование подтверждённой почты.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if user.EmailVerifiedAt == nil {
		return nil, ErrEmailUnverified
	}

	return user, nil
}

// VerifyEmail подтверждает почту по одноразовому токену.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.repo.ConsumeEmailVerificationToken(ctx, token)
}

// RecoverPassword создаёт токен сброса и отправляет письмо, если адрес
// зарегистрирован. Ответ одинаков для известных и неизвестных адресов,
// чтобы не раскрывать базу почт.
func (s *Service) RecoverPassword(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}

	token := randomHex(20)
	if err := s.repo.CreatePasswordResetToken(ctx, user.ID, token, time.Now().Add(resetTokenTTL)); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/auth/reset?token=%s", s.opts.BaseURL, token)
	s.sendAsync(user.Email, "Recuperar contraseña",
		fmt.Sprintf(`<p>Para resetear tu contraseña, hacé click: <a href="%s">%s</a></p>`, link, link))

	return nil
}

// ResetPassword устанавливает новый пароль по одноразовому токену сброса.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.repo.ConsumePasswordResetToken(ctx, token, hash)
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// IsAdmin проверяет роль пользователя по данным хранилища, а не по токену.
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Role == model.RoleAdmin, nil
}

// RecordPurchase начисляет баллы за покупку по курсу программы лояльности.
func (s *Service) RecordPurchase(ctx context.Context, userID string, amount int64, idempotencyKey, paymentMethod *string) (*repository.PurchaseResult, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	return s.repo.RecordPurchase(ctx, userID, amount, s.opts.Rate, s.opts.ReferralBonus, idempotencyKey, paymentMethod)
}

// GetBalance возвращает баланс и накопленный остаток пользователя.
func (s *Service) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// ListLedgerEvents возвращает журнал операций пользователя.
func (s *Service) ListLedgerEvents(ctx context.Context, userID string) ([]model.LedgerEvent, error) {
	return s.repo.ListLedgerEvents(ctx, userID)
}

// ListRewardTiers возвращает каталог вознаграждений.
func (s *Service) ListRewardTiers() []model.RewardTier {
	return s.catalog.List()
}

// Redeem обменивает баллы пользователя на вознаграждение из каталога.
func (s *Service) Redeem(ctx context.Context, userID, tierCode string) (*model.Redemption, model.RewardTier, error) {
	tier, err := s.catalog.Get(tierCode)
	if err != nil {
		return nil, model.RewardTier{}, err
	}

	red, err := s.repo.CreateRedemption(ctx, userID, tier)
	if err != nil {
		return nil, model.RewardTier{}, err
	}

	return red, tier, nil
}

// ListRedemptionsByUser возвращает заявки пользователя на обмен.
func (s *Service) ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error) {
	return s.repo.ListRedemptionsByUser(ctx, userID)
}

// ListRedemptions возвращает все заявки системы (для администратора).
func (s *Service) ListRedemptions(ctx context.Context) ([]model.Redemption, error) {
	return s.repo.ListRedemptions(ctx)
}

// CompleteRedemption переводит заявку в статус COMPLETED.
func (s *Service) CompleteRedemption(ctx context.Context, id string) (*model.Redemption, error) {
	return s.repo.UpdateRedemptionStatus(ctx, id, model.RedemptionStatusCompleted)
}

// CancelRedemption переводит заявку в статус CANCELLED.
// Списанные баллы при отмене не возвращаются.
func (s *Service) CancelRedemption(ctx context.Context, id string) (*model.Redemption, error) {
	return s.repo.UpdateRedemptionStatus(ctx, id, model.RedemptionStatusCancelled)
}

// SendTestEmail отправляет пробное письмо синхронно (для проверки настроек).
func (s *Service) SendTestEmail(ctx context.Context, to string) error {
	return s.mailer.Send(ctx, mailer.Message{
		To:      to,
		Subject: "Prueba de email - Smoke Eat Burger",
		HTML:    "<b>OK!</b> Este es un envío de prueba.",
	})
}

// sendAsync отправляет письмо в фоне: сбой доставки логируется и не
// влияет на результат вызвавшей операции.
func (s *Service) sendAsync(to, subject, html string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mailSendTimeout)
		defer cancel()

		if err := s.mailer.Send(ctx, mailer.Message{To: to, Subject: subject, HTML: html}); err != nil {
			s.logger.Error("send email", zap.String("to", to), zap.Error(err))
		}
	}()
}
