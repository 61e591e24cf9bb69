// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/smokeeat/loyalty-system/internal/ledger"
	"github.com/smokeeat/loyalty-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующей почтой.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrReferralCodeTaken возвращается при коллизии реферального кода.
	ErrReferralCodeTaken = errors.New("referral code already taken")
	// ErrInsufficientBalance возвращается при попытке списать больше баллов, чем есть на счёте.
	ErrInsufficientBalance = errors.New("insufficient points balance")
	// ErrTokenNotFound возвращается для неизвестного, использованного или просроченного токена.
	ErrTokenNotFound = errors.New("token not found or expired")
	// ErrRedemptionNotFound возвращается, если заявка на обмен не найдена.
	ErrRedemptionNotFound = errors.New("redemption not found")
	// ErrInvalidState возвращается при недопустимом переходе статуса заявки.
	ErrInvalidState = errors.New("invalid redemption state transition")
	// ErrVoucherExhausted возвращается, если не удалось подобрать уникальный код ваучера.
	ErrVoucherExhausted = errors.New("voucher code generation exhausted")
)

const voucherAttempts = 5

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при deadlock, serialization failure и сетевых сбоях.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, email, password_hash, role, points, spend_remainder,
	referral_code, referred_by_id, email_verified_at, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Points, &u.SpendRemainder,
		&u.ReferralCode, &u.ReferredByID, &u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// CreateUser создаёт нового пользователя. Самый первый пользователь системы
// получает роль admin, все последующие — user.
func (r *PostgresRepository) CreateUser(ctx context.Context, email string, passwordHash []byte, referralCode string, referredByID *string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, role, referral_code, referred_by_id)
		 VALUES ($1, $2, $3,
		         CASE WHEN EXISTS (SELECT 1 FROM users) THEN 'user' ELSE 'admin' END,
		         $4, $5)
		 RETURNING `+userColumns,
		uuid.NewString(), email, passwordHash, referralCode, referredByID,
	)

	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == "users_referral_code_key" {
				return nil, ErrReferralCodeTaken
			}
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по адресу почты без учёта регистра.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// GetUserByReferralCode возвращает пользователя по его реферальному коду.
func (r *PostgresRepository) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = $1`,
		code,
	)
	return scanUser(row)
}

func (r *PostgresRepository) createToken(ctx context.Context, table, userID, token string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, user_id, token, expires_at) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), userID, token, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// CreateEmailVerificationToken сохраняет токен подтверждения почты.
func (r *PostgresRepository) CreateEmailVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return r.createToken(ctx, "email_verification_tokens", userID, token, expiresAt)
}

// CreatePasswordResetToken сохраняет токен сброса пароля.
func (r *PostgresRepository) CreatePasswordResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return r.createToken(ctx, "password_reset_tokens", userID, token, expiresAt)
}

// ConsumeEmailVerificationToken гасит токен подтверждения и отмечает почту
// пользователя подтверждённой. Токен потребляется не более одного раза.
func (r *PostgresRepository) ConsumeEmailVerificationToken(ctx context.Context, token string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			id        string
			userID    string
			expiresAt time.Time
			usedAt    *time.Time
		)
		err = tx.QueryRow(ctx,
			`SELECT id, user_id, expires_at, used_at FROM email_verification_tokens WHERE token = $1 FOR UPDATE`,
			token,
		).Scan(&id, &userID, &expiresAt, &usedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTokenNotFound
			}
			return fmt.Errorf("select token: %w", err)
		}

		if usedAt != nil || time.Now().After(expiresAt) {
			return ErrTokenNotFound
		}

		if _, err := tx.Exec(ctx,
			`UPDATE email_verification_tokens SET used_at = now() WHERE id = $1`, id,
		); err != nil {
			return fmt.Errorf("mark token used: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET email_verified_at = COALESCE(email_verified_at, now()), updated_at = now() WHERE id = $1`,
			userID,
		); err != nil {
			return fmt.Errorf("mark email verified: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ConsumePasswordResetToken гасит токен сброса и устанавливает новый хеш пароля.
func (r *PostgresRepository) ConsumePasswordResetToken(ctx context.Context, token string, newPasswordHash []byte) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			id        string
			userID    string
			expiresAt time.Time
			usedAt    *time.Time
		)
		err = tx.QueryRow(ctx,
			`SELECT id, user_id, expires_at, used_at FROM password_reset_tokens WHERE token = $1 FOR UPDATE`,
			token,
		).Scan(&id, &userID, &expiresAt, &usedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTokenNotFound
			}
			return fmt.Errorf("select token: %w", err)
		}

		if usedAt != nil || time.Now().After(expiresAt) {
			return ErrTokenNotFound
		}

		if _, err := tx.Exec(ctx,
			`UPDATE password_reset_tokens SET used_at = now() WHERE id = $1`, id,
		); err != nil {
			return fmt.Errorf("mark token used: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
			userID, newPasswordHash,
		); err != nil {
			return fmt.Errorf("update password: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// PurchaseResult содержит итог обработки покупки.
type PurchaseResult struct {
	PointsAwarded  int64
	RemainderAfter int64
	Duplicate      bool
}

// RecordPurchase начисляет баллы за покупку в одной транзакции со строкой
// пользователя, заблокированной на всё её время. Повторный вызов с тем же
// ключом идемпотентности возвращает прежний результат без новых изменений.
// Первая покупка приглашённого пользователя начисляет referralBonus его
// пригласившему в той же транзакции.
func (r *PostgresRepository) RecordPurchase(ctx context.Context, userID string, amount int64, rate ledger.Rate, referralBonus int64, idempotencyKey, paymentMethod *string) (*PurchaseResult, error) {
	var result *PurchaseResult

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокировка строки пользователя сериализует все операции по счёту,
		// включая проверку идемпотентности ниже.
		var (
			points       int64
			remainder    int64
			referredByID *string
		)
		err = tx.QueryRow(ctx,
			`SELECT points, spend_remainder, referred_by_id FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&points, &remainder, &referredByID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		if idempotencyKey != nil {
			var prevDelta, prevRemainder int64
			err = tx.QueryRow(ctx,
				`SELECT points_delta, remainder_after FROM ledger_events
				 WHERE user_id = $1 AND kind = $2 AND idempotency_key = $3`,
				userID, string(model.EventKindPurchase), *idempotencyKey,
			).Scan(&prevDelta, &prevRemainder)
			if err == nil {
				result = &PurchaseResult{
					PointsAwarded:  prevDelta,
					RemainderAfter: prevRemainder,
					Duplicate:      true,
				}
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check idempotency key: %w", err)
			}
		}

		conv, err := ledger.Convert(rate, remainder, amount)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET points = points + $2, spend_remainder = $3, updated_at = now() WHERE id = $1`,
			userID, conv.PointsEarned, conv.RemainderAfter,
		); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_events
			 (id, user_id, kind, points_delta, amount, remainder_before, remainder_after, payment_method, idempotency_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.NewString(), userID, string(model.EventKindPurchase),
			conv.PointsEarned, amount, remainder, conv.RemainderAfter,
			paymentMethod, idempotencyKey,
		); err != nil {
			return fmt.Errorf("insert ledger event: %w", err)
		}

		// Бонус пригласившему платится только за самую первую покупку:
		// счётчик включает только что вставленное событие.
		if referredByID != nil && referralBonus > 0 {
			var purchaseCount int64
			err = tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM ledger_events WHERE user_id = $1 AND kind = $2`,
				userID, string(model.EventKindPurchase),
			).Scan(&purchaseCount)
			if err != nil {
				return fmt.Errorf("count purchases: %w", err)
			}

			if purchaseCount == 1 {
				var dummy int
				err = tx.QueryRow(ctx,
					`SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, *referredByID,
				).Scan(&dummy)
				if err != nil && !errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("lock referrer: %w", err)
				}

				if err == nil {
					if _, err := tx.Exec(ctx,
						`UPDATE users SET points = points + $2, updated_at = now() WHERE id = $1`,
						*referredByID, referralBonus,
					); err != nil {
						return fmt.Errorf("credit referrer: %w", err)
					}

					if _, err := tx.Exec(ctx,
						`INSERT INTO ledger_events (id, user_id, kind, points_delta) VALUES ($1, $2, $3, $4)`,
						uuid.NewString(), *referredByID, string(model.EventKindReferralBonus), referralBonus,
					); err != nil {
						return fmt.Errorf("insert referral bonus event: %w", err)
					}
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &PurchaseResult{
			PointsAwarded:  conv.PointsEarned,
			RemainderAfter: conv.RemainderAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBalance возвращает текущий баланс и остаток начисления пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	err := r.pool.QueryRow(ctx,
		`SELECT points, spend_remainder FROM users WHERE id = $1`,
		userID,
	).Scan(&b.Points, &b.SpendRemainder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("select balance: %w", err)
	}
	return &b, nil
}

// ListLedgerEvents возвращает журнал изменений баланса пользователя, новые записи первыми.
func (r *PostgresRepository) ListLedgerEvents(ctx context.Context, userID string) ([]model.LedgerEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, kind, points_delta, amount, remainder_before, remainder_after,
		        payment_method, reward_code, idempotency_key, created_at
		 FROM ledger_events
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger events: %w", err)
	}
	defer rows.Close()

	var events []model.LedgerEvent
	for rows.Next() {
		var e model.LedgerEvent
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Kind, &e.PointsDelta, &e.Amount, &e.RemainderBefore,
			&e.RemainderAfter, &e.PaymentMethod, &e.RewardCode, &e.IdempotencyKey, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

func newVoucherCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand недоступен только при деградации ОС; uuid как запасной источник.
		return "SEB-" + strings.ToUpper(uuid.NewString()[:12])
	}
	return "SEB-" + strings.ToUpper(hex.EncodeToString(buf))
}

// CreateRedemption списывает стоимость вознаграждения со счёта пользователя и
// создаёт заявку в статусе PENDING в одной транзакции со строкой пользователя,
// заблокированной до фиксации. Код ваучера подбирается повторно при коллизии.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, userID string, tier model.RewardTier) (*model.Redemption, error) {
	var result *model.Redemption

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var points int64
		err = tx.QueryRow(ctx,
			`SELECT points FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&points)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		if points < tier.CostPoints {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET points = points - $2, updated_at = now() WHERE id = $1`,
			userID, tier.CostPoints,
		); err != nil {
			return fmt.Errorf("debit points: %w", err)
		}

		// Каждая попытка вставки выполняется под savepoint: после unique
		// violation транзакция в PostgreSQL иначе перешла бы в aborted.
		var red model.Redemption
		inserted := false
		for attempt := 0; attempt < voucherAttempts; attempt++ {
			sp, err := tx.Begin(ctx)
			if err != nil {
				return fmt.Errorf("begin savepoint: %w", err)
			}

			voucher := newVoucherCode()
			row := sp.QueryRow(ctx,
				`INSERT INTO redemptions (id, user_id, reward_code, points_cost, voucher_code)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id, user_id, reward_code, points_cost, voucher_code, status, created_at, updated_at`,
				uuid.NewString(), userID, tier.Code, tier.CostPoints, voucher,
			)
			err = row.Scan(
				&red.ID, &red.UserID, &red.RewardCode, &red.PointsCost,
				&red.VoucherCode, &red.Status, &red.CreatedAt, &red.UpdatedAt,
			)
			if err == nil {
				if err := sp.Commit(ctx); err != nil {
					return fmt.Errorf("release savepoint: %w", err)
				}
				inserted = true
				break
			}

			_ = sp.Rollback(ctx)

			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "redemptions_voucher_code_key" {
				continue
			}
			return fmt.Errorf("insert redemption: %w", err)
		}
		if !inserted {
			return ErrVoucherExhausted
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_events (id, user_id, kind, points_delta, reward_code) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), userID, string(model.EventKindRedeem), -tier.CostPoints, tier.Code,
		); err != nil {
			return fmt.Errorf("insert redeem event: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &red
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

const redemptionColumns = `id, user_id, reward_code, points_cost, voucher_code, status, created_at, updated_at`

func scanRedemptions(rows pgx.Rows) ([]model.Redemption, error) {
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var red model.Redemption
		if err := rows.Scan(
			&red.ID, &red.UserID, &red.RewardCode, &red.PointsCost,
			&red.VoucherCode, &red.Status, &red.CreatedAt, &red.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		res = append(res, red)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListRedemptionsByUser возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) ListRedemptionsByUser(ctx context.Context, userID string) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+redemptionColumns+` FROM redemptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	return scanRedemptions(rows)
}

// ListRedemptions возвращает все заявки системы, новые первыми.
func (r *PostgresRepository) ListRedemptions(ctx context.Context) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+redemptionColumns+` FROM redemptions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	return scanRedemptions(rows)
}

// UpdateRedemptionStatus переводит заявку из PENDING в указанный статус.
// Любой другой исходный статус — ошибка ErrInvalidState без изменений.
func (r *PostgresRepository) UpdateRedemptionStatus(ctx context.Context, id string, status model.RedemptionStatus) (*model.Redemption, error) {
	var result *model.Redemption

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var current model.RedemptionStatus
		err = tx.QueryRow(ctx,
			`SELECT status FROM redemptions WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRedemptionNotFound
			}
			return fmt.Errorf("lock redemption: %w", err)
		}

		if current != model.RedemptionStatusPending {
			return ErrInvalidState
		}

		var red model.Redemption
		err = tx.QueryRow(ctx,
			`UPDATE redemptions SET status = $2, updated_at = now() WHERE id = $1
			 RETURNING `+redemptionColumns,
			id, string(status),
		).Scan(
			&red.ID, &red.UserID, &red.RewardCode, &red.PointsCost,
			&red.VoucherCode, &red.Status, &red.CreatedAt, &red.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update redemption: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &red
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
