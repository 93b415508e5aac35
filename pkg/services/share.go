package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
	"github.com/ekaya-inc/ekaya-dashboards/pkg/repositories"
)

const shareIssuer = "ekaya-dashboards"

// ShareClaims are carried by a public dashboard link.
type ShareClaims struct {
	jwt.RegisteredClaims
	Slug string `json:"slug,omitempty"`
}

// ShareService manages public dashboard links.
type ShareService interface {
	// Enable turns on public access and returns the public URL.
	Enable(ctx context.Context, dashboard *models.Dashboard) (string, error)
	// Disable turns off public access. Links handed out earlier stop working.
	Disable(ctx context.Context, dashboardID uuid.UUID) error
	// Resolve returns the dashboard a public link token points to.
	Resolve(ctx context.Context, token string) (*models.Dashboard, error)
}

type shareService struct {
	repo    repositories.DashboardRepository
	secret  []byte
	baseURL string
	logger  *zap.Logger
}

// NewShareService creates a ShareService. An empty secret disables sharing.
func NewShareService(repo repositories.DashboardRepository, secret, publicBaseURL string, logger *zap.Logger) ShareService {
	return &shareService{
		repo:    repo,
		secret:  []byte(secret),
		baseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:  logger.Named("share"),
	}
}

var _ ShareService = (*shareService)(nil)

func (s *shareService) Enable(ctx context.Context, dashboard *models.Dashboard) (string, error) {
	if len(s.secret) == 0 {
		return "", apperrors.ErrSharingNotAvailable
	}

	claims := ShareClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   shareIssuer,
			Subject:  dashboard.ID.String(),
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		Slug: dashboard.Slug,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign share token: %w", err)
	}

	publicURL := s.baseURL + "/public/dashboards/" + token
	if err := s.repo.SetPublicAccess(ctx, dashboard.ID, true, publicURL); err != nil {
		return "", fmt.Errorf("enable public access: %w", err)
	}

	s.logger.Info("Public access enabled", zap.String("dashboard_id", dashboard.ID.String()))
	return publicURL, nil
}

func (s *shareService) Disable(ctx context.Context, dashboardID uuid.UUID) error {
	if len(s.secret) == 0 {
		return apperrors.ErrSharingNotAvailable
	}
	if err := s.repo.SetPublicAccess(ctx, dashboardID, false, ""); err != nil {
		return fmt.Errorf("disable public access: %w", err)
	}

	s.logger.Info("Public access disabled", zap.String("dashboard_id", dashboardID.String()))
	return nil
}

func (s *shareService) Resolve(ctx context.Context, token string) (*models.Dashboard, error) {
	if len(s.secret) == 0 {
		return nil, apperrors.ErrSharingNotAvailable
	}

	parsed, err := jwt.ParseWithClaims(token, &ShareClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(shareIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid share token: %v", apperrors.ErrNotFound, err)
	}

	claims, ok := parsed.Claims.(*ShareClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid share subject", apperrors.ErrNotFound)
	}

	dashboard, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// only the most recently issued link is live
	if !dashboard.PublicAccessEnabled || !strings.HasSuffix(dashboard.PublicURL, "/"+token) {
		return nil, apperrors.ErrNotFound
	}
	return dashboard, nil
}
