package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"warehouse/backend/internal/domain"
)

// MinSecretLength is the shortest signing secret the server accepts.
const MinSecretLength = 32

var (
	ErrWeakSecret         = errors.New("auth secret must be at least 32 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	logger    *logrus.Logger
}

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type warehouseClaims struct {
	jwtlib.RegisteredClaims
	UserID      string `json:"uid"`
	Role        string `json:"role"`
	WarehouseID string `json:"warehouse_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, logger *logrus.Logger) (*AuthManager, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		logger:    logger,
	}, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	user, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		// Unknown usernames cost one bcrypt comparison, like a wrong password.
		_ = bcrypt.CompareHashAndPassword([]byte(timingHash), []byte(req.Password))
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	if !a.verifyAndUpgrade(ctx, user, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		WarehouseID: user.WarehouseID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// verifyAndUpgrade checks input against the stored password. Accounts still
// holding a plain-text password are rehashed with bcrypt on first successful login.
func (a *AuthManager) verifyAndUpgrade(ctx context.Context, user *domain.UserAccount, input string) bool {
	if isPasswordHash(user.Password) {
		return bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input)) == nil
	}
	if user.Password == "" || subtle.ConstantTimeCompare([]byte(user.Password), []byte(input)) != 1 {
		return false
	}

	hashed, err := hashPassword(input)
	if err != nil {
		a.logger.WithError(err).WithField("username", user.Username).Warn("auth: failed to hash legacy password")
		return true
	}
	if err := a.userStore.UpdateUserPassword(ctx, user.Username, hashed); err != nil {
		a.logger.WithError(err).WithField("username", user.Username).Warn("auth: failed to upgrade legacy password")
		return true
	}
	user.Password = hashed
	a.logger.WithField("username", user.Username).Info("auth: upgraded legacy password to bcrypt")
	return true
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &warehouseClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if !domain.ValidRole(claims.Role) {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{
		UserID:      claims.UserID,
		Username:    sub,
		Role:        claims.Role,
		WarehouseID: claims.WarehouseID,
	}, nil
}

const (
	tokenIssuer = "warehouse-backend"
	timingHash  = "$2a$10$7EqJtq98hPqEX7fNZaFWoO5rD0V9lJ7jIvuYdEB6ZyNYNaKHdDj1e"
)

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := warehouseClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		UserID:      user.ID,
		Role:        user.Role,
		WarehouseID: user.WarehouseID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
