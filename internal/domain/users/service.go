package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sidra/sidra/internal/platform/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBlocked            = errors.New("account is blocked")
	ErrInvalidOTP         = errors.New("invalid otp")
	ErrChallengeExpired   = errors.New("otp challenge expired")
	ErrTooManyAttempts    = errors.New("too many otp attempts")
)

const maxOTPAttempts = 5

// AuthConfig holds the login settings.
type AuthConfig struct {
	OTPTTL time.Duration
	// DevOTP, when set, replaces the random code. Development only.
	DevOTP string
}

type Service struct {
	repo       Repository
	challenges ChallengeRepository
	issuer     *auth.Issuer
	revoker    auth.Revoker
	cfg        AuthConfig
	logger     zerolog.Logger
	now        func() time.Time

	scheduler *gocron.Scheduler
}

func NewService(repo Repository, challenges ChallengeRepository, issuer *auth.Issuer, revoker auth.Revoker, cfg AuthConfig, logger zerolog.Logger) *Service {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	return &Service{
		repo:       repo,
		challenges: challenges,
		issuer:     issuer,
		revoker:    revoker,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func validateInput(in *UserInput) error {
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.Email == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("invalid email: %s", in.Email)
	}
	if in.FirstName == "" || in.LastName == "" {
		return fmt.Errorf("firstName and lastName are required")
	}
	if in.Structure == "" {
		return fmt.Errorf("structure is required")
	}
	return nil
}

// Create adds a user. When in.Password is empty a strong password is
// generated and returned so it can be handed to the user once.
func (s *Service) Create(ctx context.Context, in UserInput) (*User, string, error) {
	if err := validateInput(&in); err != nil {
		return nil, "", err
	}
	generated := ""
	if in.Password == "" {
		pw, err := GeneratePassword()
		if err != nil {
			return nil, "", err
		}
		in.Password, generated = pw, pw
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, "", err
	}
	u := &User{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Structure:    in.Structure,
		Phone:        in.Phone,
		PasswordHash: hash,
		Permissions:  in.Permissions,
		Status:       StatusOffline,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, "", err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("by", auth.UserIDFromContext(ctx)).Msg("user created")
	return u, generated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, query string, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, strings.TrimSpace(query), limit, offset)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UserInput) (*User, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Email, u.FirstName, u.LastName = in.Email, in.FirstName, in.LastName
	u.Structure, u.Phone, u.Permissions = in.Structure, in.Phone, in.Permissions
	if in.Password != "" {
		hash, err := HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ToggleBlock flips the blocked flag and returns the updated user.
func (s *Service) ToggleBlock(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.ID.String() == auth.UserIDFromContext(ctx) && !u.IsBlocked {
		return nil, fmt.Errorf("cannot block your own account")
	}
	return s.repo.SetBlocked(ctx, id, !u.IsBlocked)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if id.String() == auth.UserIDFromContext(ctx) {
		return fmt.Errorf("cannot delete your own account")
	}
	return s.repo.Delete(ctx, id)
}

// Login checks email and password and opens an OTP challenge. No SMS
// gateway is wired, so the code is written to the log.
func (s *Service) Login(ctx context.Context, email, password string) (*Challenge, error) {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		s.logger.Warn().Str("user_id", u.ID.String()).Msg("login failed")
		return nil, ErrInvalidCredentials
	}
	if u.IsBlocked {
		return nil, ErrBlocked
	}

	code := s.cfg.DevOTP
	if code == "" {
		if code, err = newOTP(); err != nil {
			return nil, err
		}
	}
	hash, err := hashOTP(code)
	if err != nil {
		return nil, err
	}
	ch := &Challenge{UserID: u.ID, CodeHash: hash, ExpiresAt: s.now().Add(s.cfg.OTPTTL)}
	if err := s.challenges.CreateChallenge(ctx, ch); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("challenge_id", ch.ID.String()).
		Str("otp", code).Msg("otp issued")
	return ch, nil
}

// VerifyOTP completes a login and returns an access token.
func (s *Service) VerifyOTP(ctx context.Context, challengeID uuid.UUID, code string) (*auth.Token, *User, error) {
	ch, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, nil, err
	}
	if s.now().After(ch.ExpiresAt) {
		_ = s.challenges.DeleteChallenge(ctx, ch.ID)
		return nil, nil, ErrChallengeExpired
	}
	if ch.Attempts >= maxOTPAttempts {
		_ = s.challenges.DeleteChallenge(ctx, ch.ID)
		return nil, nil, ErrTooManyAttempts
	}
	if !CheckPassword(ch.CodeHash, strings.TrimSpace(code)) {
		if err := s.challenges.IncrementAttempts(ctx, ch.ID); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrInvalidOTP
	}
	if err := s.challenges.DeleteChallenge(ctx, ch.ID); err != nil {
		return nil, nil, err
	}

	u, err := s.repo.GetByID(ctx, ch.UserID)
	if err != nil {
		return nil, nil, err
	}
	if u.IsBlocked {
		return nil, nil, ErrBlocked
	}
	tok, err := s.issuer.Issue(u.ID.String(), u.Email, u.Permissions.Roles())
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	if err := s.repo.SetStatus(ctx, u.ID, StatusOnline, &now); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("failed to mark user online")
	}
	u.Status, u.LastLogin = StatusOnline, &now
	s.logger.Info().Str("user_id", u.ID.String()).Msg("login succeeded")
	return tok, u, nil
}

// Logout revokes the caller's token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ID == "" {
		return ErrInvalidCredentials
	}
	exp := s.now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.Subject, exp); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if id, err := uuid.Parse(claims.Subject); err == nil {
		if err := s.repo.SetStatus(ctx, id, StatusOffline, nil); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Str("user_id", claims.Subject).Msg("failed to mark user offline")
		}
	}
	return nil
}

// PurgeExpired removes OTP challenges past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.challenges.PurgeExpired(ctx, s.now())
}

// StartPurge removes expired challenges every interval.
func (s *Service) StartPurge(interval time.Duration) error {
	s.scheduler = gocron.NewScheduler(time.Local)
	_, err := s.scheduler.Every(interval).Do(func() {
		n, err := s.PurgeExpired(context.Background())
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to purge otp challenges")
			return
		}
		if n > 0 {
			s.logger.Debug().Int64("purged", n).Msg("expired otp challenges removed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule otp purge: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *Service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
