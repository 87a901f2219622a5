package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/skydrive/backend/internal/models"
	"github.com/skydrive/backend/pkg/logger"
	"github.com/skydrive/backend/pkg/utils"
	"gorm.io/gorm"
)

const (
	verificationTokenTTL = 24 * time.Hour
	passwordResetTTL     = 1 * time.Hour
	minPasswordLength    = 6
	tokenByteLength      = 32
	emailDispatchTimeout = 30 * time.Second
)

// Mailer delivers account-lifecycle emails. Implementations must be safe
// for concurrent use; the account service calls them from detached
// goroutines and only logs their failures.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

type AccountService struct {
	DB     *gorm.DB
	Mailer Mailer
}

func NewAccountService(db *gorm.DB, mailer Mailer) *AccountService {
	return &AccountService{DB: db, Mailer: mailer}
}

// Register creates an unverified account and dispatches a verification
// email out-of-band. The account record is persisted before any email
// activity; a failed send never fails the registration.
func (s *AccountService) Register(ctx context.Context, firstName, lastName, email, password string) (*models.User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	email = normalizeEmail(email)

	if firstName == "" || lastName == "" || email == "" || password == "" {
		return nil, newError(KindValidation, "all fields are required")
	}
	if len(password) < minPasswordLength {
		return nil, newError(KindValidation, "password must be at least 6 characters")
	}

	var existing models.User
	err := s.DB.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, newError(KindDuplicate, "user already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wrapError(KindDependency, "failed checking existing account", err)
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, wrapError(KindDependency, "failed hashing password", err)
	}

	token, err := utils.RandomToken(tokenByteLength)
	if err != nil {
		return nil, wrapError(KindDependency, "failed generating verification token", err)
	}
	expiresAt := time.Now().Add(verificationTokenTTL)

	user := models.User{
		Email:                      email,
		PasswordHash:               hash,
		FirstName:                  firstName,
		LastName:                   lastName,
		Verified:                   false,
		VerificationToken:          &token,
		VerificationTokenExpiresAt: &expiresAt,
		StorageTotal:               models.DefaultStorageTotal,
	}

	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, wrapError(KindDependency, "failed creating account", err)
	}

	logger.InfoWithUser(user.ID.String(), "account_registered", map[string]interface{}{
		"email": email,
	})

	s.dispatchEmail("verification", email, func(ctx context.Context) error {
		return s.Mailer.SendVerificationEmail(ctx, email, token)
	})

	return &user, nil
}

// Login checks credentials against the stored hash and issues a signed
// bearer token. Unverified accounts cannot log in.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, newError(KindValidation, "email and password are required")
	}

	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, newError(KindAuth, "invalid credentials")
		}
		return "", nil, wrapError(KindDependency, "failed loading account", err)
	}

	if !user.Verified {
		return "", nil, newError(KindAuth, "please verify your email first")
	}

	if !utils.CheckPassword(user.PasswordHash, password) {
		return "", nil, newError(KindAuth, "invalid credentials")
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return "", nil, wrapError(KindDependency, "failed generating token", err)
	}

	logger.InfoWithUser(user.ID.String(), "account_login", nil)

	return token, &user, nil
}

// VerifyEmail flips the account to verified. The token is single-use: it
// is cleared together with its expiry in the same update.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return newError(KindToken, "invalid or expired verification token")
	}

	var user models.User
	err := s.DB.WithContext(ctx).
		Where("verification_token = ? AND verification_token_expires_at > ?", token, time.Now()).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindToken, "invalid or expired verification token")
		}
		return wrapError(KindDependency, "failed loading account", err)
	}

	updates := map[string]interface{}{
		"verified":                      true,
		"verification_token":            nil,
		"verification_token_expires_at": nil,
	}
	if err := s.DB.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return wrapError(KindDependency, "failed verifying account", err)
	}

	logger.InfoWithUser(user.ID.String(), "account_verified", nil)
	return nil
}

// RequestPasswordReset issues a fresh reset token, overwriting any prior
// one, and dispatches the reset email out-of-band.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return newError(KindValidation, "email is required")
	}

	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindNotFound, "user not found")
		}
		return wrapError(KindDependency, "failed loading account", err)
	}

	token, err := utils.RandomToken(tokenByteLength)
	if err != nil {
		return wrapError(KindDependency, "failed generating reset token", err)
	}
	expiresAt := time.Now().Add(passwordResetTTL)

	updates := map[string]interface{}{
		"password_reset_token":      token,
		"password_reset_expires_at": expiresAt,
	}
	if err := s.DB.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return wrapError(KindDependency, "failed storing reset token", err)
	}

	logger.InfoWithUser(user.ID.String(), "password_reset_requested", nil)

	s.dispatchEmail("password_reset", email, func(ctx context.Context) error {
		return s.Mailer.SendPasswordResetEmail(ctx, email, token)
	})

	return nil
}

// ResetPassword replaces the password hash and clears the reset token in
// the same update, making the token single-use.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return newError(KindValidation, "token and new password are required")
	}
	if len(newPassword) < minPasswordLength {
		return newError(KindValidation, "password must be at least 6 characters")
	}

	var user models.User
	err := s.DB.WithContext(ctx).
		Where("password_reset_token = ? AND password_reset_expires_at > ?", token, time.Now()).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newError(KindToken, "invalid or expired reset token")
		}
		return wrapError(KindDependency, "failed loading account", err)
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return wrapError(KindDependency, "failed hashing password", err)
	}

	updates := map[string]interface{}{
		"password_hash":             hash,
		"password_reset_token":      nil,
		"password_reset_expires_at": nil,
	}
	if err := s.DB.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return wrapError(KindDependency, "failed resetting password", err)
	}

	logger.InfoWithUser(user.ID.String(), "password_reset_completed", nil)
	return nil
}

// dispatchEmail runs send in a detached goroutine. The caller's request
// must never block on, or fail because of, the mail transport.
func (s *AccountService) dispatchEmail(kind, email string, send func(ctx context.Context) error) {
	if s.Mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emailDispatchTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			logger.Error("email_dispatch_failed", err, map[string]interface{}{
				"kind":  kind,
				"email": email,
			})
			return
		}
		logger.Info("email_dispatched", map[string]interface{}{
			"kind":  kind,
			"email": email,
		})
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
