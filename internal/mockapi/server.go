package mockapi

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/auth"
	"go.uber.org/zap"
)

const (
	tokenIssuer   = "fieldhand-mockapi"
	tokenAudience = "fieldhand-client"
)

// ServerConfig assembles a complete mock platform.
type ServerConfig struct {
	SigningSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// PasswordCost is the bcrypt cost of registered passwords; tests lower it.
	PasswordCost int
	Seed         bool
	Clock        func() time.Time
	Logger       *zap.Logger
}

// NewServer builds the platform, optionally seeds it, and returns the handler
// serving it.
func NewServer(cfg ServerConfig) (http.Handler, *Platform, error) {
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(cfg.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Clock:         cfg.Clock,
	})
	if err != nil {
		return nil, nil, err
	}
	platform := NewPlatform(cfg.Clock, cfg.PasswordCost)
	if cfg.Seed {
		if err := platform.Seed(); err != nil {
			return nil, nil, err
		}
	}
	handler, err := NewHTTPHandler(Dependencies{
		Platform:     platform,
		TokenManager: issuer,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return handler, platform, nil
}
