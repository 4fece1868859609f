package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/logging"
	"storefront/internal/models"
	"storefront/internal/store"
)

var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInactive            = errors.New("user is inactive")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshExpired      = errors.New("refresh token expired")
	ErrUserNotFound        = errors.New("user not found")
)

const MinPasswordLength = 6

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, id primitive.ObjectID, name, phone *string) (*models.User, error)
	SetRole(ctx context.Context, id primitive.ObjectID, role string) (*models.User, error)
	SetPasswordHash(ctx context.Context, id primitive.ObjectID, hash string) error
}

type TokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetActiveByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	Claim(ctx context.Context, id primitive.ObjectID) (bool, error)
	SetReplacement(ctx context.Context, id, replacedBy primitive.ObjectID) error
	RevokeByHash(ctx context.Context, hash string) (bool, error)
}

// Session is what a successful register, login or refresh hands back.
type Session struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
	User         *models.User `json:"user"`
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

type Service struct {
	users      UserRepository
	tokens     TokenRepository
	issuer     *TokenIssuer
	refreshTTL time.Duration
	bcryptCost int
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(users UserRepository, tokens TokenRepository, issuer *TokenIssuer, refreshTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		users:      users,
		tokens:     tokens,
		issuer:     issuer,
		refreshTTL: refreshTTL,
		bcryptCost: bcrypt.DefaultCost,
		logger:     logger,
		now:        time.Now,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        NormalizeEmail(in.Email),
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: string(hash),
		Role:         models.RoleCustomer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	logging.FromContext(ctx, s.logger).Info("user registered", slog.String("user_id", user.ID.Hex()))
	return s.issue(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactive
	}

	return s.issue(ctx, user)
}

// Refresh rotates a refresh token: the presented one is revoked and points at its replacement.
// Only one of several concurrent calls with the same token wins the claim.
func (s *Service) Refresh(ctx context.Context, plain string) (*Session, error) {
	token, err := s.tokens.GetActiveByHash(ctx, HashToken(strings.TrimSpace(plain)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}

	claimed, err := s.tokens.Claim(ctx, token.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrInvalidRefreshToken
	}
	if token.Expired(s.now()) {
		return nil, ErrRefreshExpired
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactive
	}

	session, newID, err := s.issueWithID(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SetReplacement(ctx, token.ID, newID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, plain string) error {
	ok, err := s.tokens.RevokeByHash(ctx, HashToken(strings.TrimSpace(plain)))
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidRefreshToken
	}
	return nil
}

func (s *Service) Me(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *Service) UpdateProfile(ctx context.Context, userID primitive.ObjectID, name, phone *string) (*models.User, error) {
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		name = &trimmed
	}
	if phone != nil {
		trimmed := strings.TrimSpace(*phone)
		phone = &trimmed
	}
	user, err := s.users.UpdateProfile(ctx, userID, name, phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// EnsureAdmin creates an admin account, or promotes and resets the password of an existing one.
// It reports whether a new user was created.
func (s *Service) EnsureAdmin(ctx context.Context, in RegisterInput) (*models.User, bool, error) {
	if len(in.Password) < MinPasswordLength {
		return nil, false, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}

	email := NormalizeEmail(in.Email)
	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.users.SetPasswordHash(ctx, existing.ID, string(hash)); err != nil {
			return nil, false, err
		}
		user, err := s.users.SetRole(ctx, existing.ID, models.RoleAdmin)
		return user, false, err
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	now := s.now()
	user := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (s *Service) issue(ctx context.Context, user *models.User) (*Session, error) {
	session, _, err := s.issueWithID(ctx, user)
	return session, err
}

func (s *Service) issueWithID(ctx context.Context, user *models.User) (*Session, primitive.ObjectID, error) {
	access, err := s.issuer.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, primitive.NilObjectID, fmt.Errorf("sign access token: %w", err)
	}

	plain, err := generateRefreshString()
	if err != nil {
		return nil, primitive.NilObjectID, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	refresh := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(plain),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, refresh); err != nil {
		return nil, primitive.NilObjectID, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: plain,
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
		User:         user,
	}, refresh.ID, nil
}
