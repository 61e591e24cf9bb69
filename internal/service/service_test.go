package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/smokeeat/loyalty-system/internal/catalog"
	"github.com/smokeeat/loyalty-system/internal/ledger"
	"github.com/smokeeat/loyalty-system/internal/mailer"
	"github.com/smokeeat/loyalty-system/internal/model"
	"github.com/smokeeat/loyalty-system/internal/repository"
)

type stubRepo struct {
	createdUser       *model.User
	createUserErr     error
	createUserCalls   int
	gotReferredByID   *string
	referralCollision int

	userByEmail    *model.User
	userByEmailErr error

	userByID    *model.User
	userByIDErr error

	referrer    *model.User
	referrerErr error

	verificationTokens int
	resetTokens        int

	purchaseResult *repository.PurchaseResult
	purchaseErr    error
	gotRate        ledger.Rate
	gotBonus       int64

	redemption    *model.Redemption
	redemptionErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, email string, passwordHash []byte, referralCode string, referredByID *string) (*model.User, error) {
	s.createUserCalls++
	s.gotReferredByID = referredByID
	if s.referralCollision > 0 {
		s.referralCollision--
		return nil, repository.ErrReferralCodeTaken
	}
	if s.createUserErr != nil {
		return nil, s.createUserErr
	}
	if s.createdUser != nil {
		return s.createdUser, nil
	}
	return &model.User{ID: "new-user", Email: email, ReferralCode: referralCode, ReferredByID: referredByID}, nil
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.userByEmail, s.userByEmailErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.userByID, s.userByIDErr
}

func (s *stubRepo) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return s.referrer, s.referrerErr
}

func (s *stubRepo) CreateEmailVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	s.verificationTokens++
	return nil
}

func (s *stubRepo) CreatePasswordResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	s.resetTokens++
	return nil
}

func (s *stubRepo) ConsumeEmailVerificationToken(ctx context.Context, token string) error {
	return nil
}

func (s *stubRepo) ConsumePasswordResetToken(ctx context.Context, token string, newPasswordHash []byte) error {
	return nil
}

func (s *stubRepo) RecordPurchase(ctx context.Context, userID string, amount int64, rate ledger.Rate, referralBonus int64, idempotencyKey, paymentMethod *string) (*repository.PurchaseResult, error) {
	s.gotRate = rate
	s.gotBonus = referralBonus
	return s.purchaseResult, s.purchaseErr
}

func (s *stubRepo) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	return &model.Balance{}, nil
}

func (s *stubRepo) ListLedgerEvents(ctx context.Context, userID string) ([]model.LedgerEvent, error) {
	return nil, nil
}

func (s *stubRepo) CreateRedemption(ctx context.Context, userID string, tier model.RewardTier) (*model.Redemption, error) {
	return s.redemption, s.redemptionErr
}

func (s *stubRepo) ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error) {
	return nil, nil
}

func (s *stubRepo) ListRedemptions(ctx context.Context) ([]model.Redemption, error) {
	return nil, nil
}

func (s *stubRepo) UpdateRedemptionStatus(ctx context.Context, id string, status model.RedemptionStatus) (*model.Redemption, error) {
	return s.redemption, s.redemptionErr
}

func newTestService(repo *stubRepo, opts Options) *Service {
	if opts.Rate == (ledger.Rate{}) {
		opts.Rate = ledger.Rate{PointsPerBlock: 100, BlockSize: 10000}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080"
	}
	return NewService(repo, catalog.Default(), mailer.NewLogMailer(zap.NewNop()), zap.NewNop(), opts)
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	svc := newTestService(&stubRepo{}, Options{})

	_, err := svc.Register(context.Background(), "not-an-email", "secret123", "")
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("err = %v, want ErrInvalidEmail", err)
	}
}

func TestRegisterRejectsDisposableEmailInStrictMode(t *testing.T) {
	svc := newTestService(&stubRepo{}, Options{StrictEmailCheck: true})

	_, err := svc.Register(context.Background(), "user@mailinator.com", "secret123", "")
	if !errors.Is(err, ErrDisposableEmail) {
		t.Fatalf("err = %v, want ErrDisposableEmail", err)
	}
}

func TestRegisterAllowsDisposableEmailWhenCheckOff(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, Options{StrictEmailCheck: false})

	if _, err := svc.Register(context.Background(), "user@mailinator.com", "secret123", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if repo.createUserCalls != 1 {
		t.Fatalf("create user calls = %d, want 1", repo.createUserCalls)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := newTestService(&stubRepo{}, Options{})

	_, err := svc.Register(context.Background(), "user@example.com", "12345", "")
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("err = %v, want ErrWeakPassword", err)
	}
}

func TestRegisterResolvesReferralCode(t *testing.T) {
	repo := &stubRepo{
		referrer: &model.User{ID: "referrer-id"},
	}
	svc := newTestService(repo, Options{})

	if _, err := svc.Register(context.Background(), "user@example.com", "secret123", "abcd1234"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if repo.gotReferredByID == nil || *repo.gotReferredByID != "referrer-id" {
		t.Fatalf("referredByID = %v, want referrer-id", repo.gotReferredByID)
	}
}

func TestRegisterIgnoresUnknownReferralCode(t *testing.T) {
	repo := &stubRepo{
		referrerErr: repository.ErrUserNotFound,
	}
	svc := newTestService(repo, Options{})

	if _, err := svc.Register(context.Background(), "user@example.com", "secret123", "nope"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if repo.gotReferredByID != nil {
		t.Fatalf("referredByID = %v, want nil", repo.gotReferredByID)
	}
}

func TestRegisterRetriesReferralCodeCollision(t *testing.T) {
	repo := &stubRepo{
		referralCollision: 2,
	}
	svc := newTestService(repo, Options{})

	if _, err := svc.Register(context.Background(), "user@example.com", "secret123", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if repo.createUserCalls != 3 {
		t.Fatalf("create user calls = %d, want 3", repo.createUserCalls)
	}
}

func TestRegisterCreatesVerificationToken(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, Options{})

	if _, err := svc.Register(context.Background(), "user@example.com", "secret123", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if repo.verificationTokens != 1 {
		t.Fatalf("verification tokens = %d, want 1", repo.verificationTokens)
	}
}

func mustHash(t *testing.T, password string) []byte {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func TestAuthenticate(t *testing.T) {
	now := time.Now()
	hash := mustHash(t, "secret123")

	tests := []struct {
		name    string
		repo    *stubRepo
		email   string
		pass    string
		wantErr error
	}{
		{
			name:    "unknown email",
			repo:    &stubRepo{userByEmailErr: repository.ErrUserNotFound},
			email:   "ghost@example.com",
			pass:    "secret123",
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "wrong password",
			repo: &stubRepo{
				userByEmail: &model.User{PasswordHash: hash, EmailVerifiedAt: &now},
			},
			email:   "user@example.com",
			pass:    "wrong-pass",
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "unverified email",
			repo: &stubRepo{
				userByEmail: &model.User{PasswordHash: hash},
			},
			email:   "user@example.com",
			pass:    "secret123",
			wantErr: ErrEmailUnverified,
		},
		{
			name: "success",
			repo: &stubRepo{
				userByEmail: &model.User{ID: "u1", PasswordHash: hash, EmailVerifiedAt: &now},
			},
			email: "user@example.com",
			pass:  "secret123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.repo, Options{})

			user, err := svc.Authenticate(context.Background(), tt.email, tt.pass)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("authenticate: %v", err)
			}
			if user.ID != "u1" {
				t.Fatalf("user id = %q, want u1", user.ID)
			}
		})
	}
}

func TestRecordPurchaseValidation(t *testing.T) {
	svc := newTestService(&stubRepo{}, Options{})

	for _, amount := range []int64{0, -100} {
		_, err := svc.RecordPurchase(context.Background(), "u1", amount, nil, nil)
		if !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("RecordPurchase(%d): err = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestRecordPurchasePassesConfiguredRate(t *testing.T) {
	repo := &stubRepo{
		purchaseResult: &repository.PurchaseResult{PointsAwarded: 40, RemainderAfter: 0},
	}
	svc := newTestService(repo, Options{
		Rate:          ledger.Rate{PointsPerBlock: 20, BlockSize: 5000},
		ReferralBonus: 75,
	})

	if _, err := svc.RecordPurchase(context.Background(), "u1", 10000, nil, nil); err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if repo.gotRate.PointsPerBlock != 20 || repo.gotRate.BlockSize != 5000 {
		t.Fatalf("rate = %+v, want 20 per 5000", repo.gotRate)
	}
	if repo.gotBonus != 75 {
		t.Fatalf("bonus = %d, want 75", repo.gotBonus)
	}
}

func TestRedeemUnknownTier(t *testing.T) {
	svc := newTestService(&stubRepo{}, Options{})

	_, _, err := svc.Redeem(context.Background(), "u1", "NO_SUCH_TIER")
	if !errors.Is(err, catalog.ErrTierNotFound) {
		t.Fatalf("err = %v, want ErrTierNotFound", err)
	}
}

func TestRedeemPassesTierSnapshot(t *testing.T) {
	repo := &stubRepo{
		redemption: &model.Redemption{ID: "r1", Status: model.RedemptionStatusPending},
	}
	svc := newTestService(repo, Options{})

	red, tier, err := svc.Redeem(context.Background(), "u1", "SIDE")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if tier.CostPoints != 400 {
		t.Fatalf("tier cost = %d, want 400", tier.CostPoints)
	}
	if red.Status != model.RedemptionStatusPending {
		t.Fatalf("status = %q, want PENDING", red.Status)
	}
}

func TestRecoverPasswordUnknownEmail(t *testing.T) {
	repo := &stubRepo{userByEmailErr: repository.ErrUserNotFound}
	svc := newTestService(repo, Options{})

	if err := svc.RecoverPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("recover must not fail for unknown email, got %v", err)
	}
	if repo.resetTokens != 0 {
		t.Fatalf("reset tokens = %d, want 0", repo.resetTokens)
	}
}

func TestResetPasswordRejectsShort(t *testing.T) {
	svc := newTestService(&stubRepo{}, Options{})

	if err := svc.ResetPassword(context.Background(), "token", "123"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("err = %v, want ErrWeakPassword", err)
	}
}

func TestIsAdmin(t *testing.T) {
	repo := &stubRepo{userByID: &model.User{ID: "u1", Role: model.RoleAdmin}}
	svc := newTestService(repo, Options{})

	ok, err := svc.IsAdmin(context.Background(), "u1")
	if err != nil {
		t.Fatalf("is admin: %v", err)
	}
	if !ok {
		t.Fatalf("expected admin")
	}

	repo.userByID = &model.User{ID: "u2", Role: model.RoleUser}
	ok, err = svc.IsAdmin(context.Background(), "u2")
	if err != nil {
		t.Fatalf("is admin: %v", err)
	}
	if ok {
		t.Fatalf("expected non-admin")
	}
}
