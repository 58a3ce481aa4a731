package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/cloudnest/backend/internal/config"
	"github.com/cloudnest/backend/internal/models"
	"github.com/cloudnest/backend/internal/services"
	"github.com/cloudnest/backend/pkg/logger"
	"github.com/cloudnest/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SSOHandler struct {
	DB           *gorm.DB
	Cfg          *config.Config
	OAuthService *services.OAuthProviderService
}

func NewSSOHandler(db *gorm.DB, cfg *config.Config) *SSOHandler {
	return &SSOHandler{
		DB:           db,
		Cfg:          cfg,
		OAuthService: services.NewOAuthProviderService(cfg),
	}
}

func (h *SSOHandler) ListProviders(c *fiber.Ctx) error {
	providers := []fiber.Map{}

	if h.Cfg.SSO.Google.Enabled {
		providers = append(providers, fiber.Map{
			"name":        "google",
			"displayName": "Google",
			"type":        "oauth",
		})
	}

	if h.Cfg.SSO.GitHub.Enabled {
		providers = append(providers, fiber.Map{
			"name":        "github",
			"displayName": "GitHub",
			"type":        "oauth",
		})
	}

	return utils.Success(c, fiber.StatusOK, providers)
}

func (h *SSOHandler) GetLoginRedirect(c *fiber.Ctx) error {
	provider := c.Params("provider")

	authCodeURL, err := h.getAuthorizationURL(provider)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"url": authCodeURL,
	})
}

func (h *SSOHandler) getAuthorizationURL(provider string) (string, error) {
	oauthCfg, providerName, err := h.OAuthService.GetOAuthConfig(provider)
	if err != nil {
		return "", err
	}

	state, err := h.OAuthService.GenerateState(providerName)
	if err != nil {
		return "", err
	}

	stateJSON, _ := json.Marshal(state)
	stateEncoded := base64.URLEncoding.EncodeToString(stateJSON)

	return oauthCfg.AuthCodeURL(stateEncoded), nil
}

func (h *SSOHandler) HandleOAuthCallback(c *fiber.Ctx) error {
	provider := c.Params("provider")
	code := c.Query("code")

	frontendURL := h.Cfg.Server.FrontendURL

	if code == "" {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("authorization code is required"))
	}

	profile, err := h.processOAuthCallback(c.Context(), provider, code)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape(err.Error()))
	}

	user, err := h.findOrCreateUser(c.Context(), profile)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape(err.Error()))
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return c.Redirect(frontendURL + "/login?error=" + url.QueryEscape("failed to generate token"))
	}

	logger.Info("sso_login_success", map[string]interface{}{
		"user_id":  user.ID.String(),
		"email":    user.Email,
		"provider": provider,
	})

	return c.Redirect(frontendURL + "/auth/callback?token=" + token)
}

func (h *SSOHandler) processOAuthCallback(ctx context.Context, provider, code string) (*services.SSOProfile, error) {
	token, err := h.OAuthService.ExchangeCode(ctx, provider, code)
	if err != nil {
		return nil, err
	}

	return h.OAuthService.GetUserInfo(ctx, provider, token)
}

// findOrCreateUser links the SSO identity to a local account by email.
// An existing local-password account keeps its provider; a fresh account
// is created with no password.
func (h *SSOHandler) findOrCreateUser(ctx context.Context, profile *services.SSOProfile) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		return nil, errors.New("sso profile has no email")
	}

	var user models.User
	err := h.DB.WithContext(ctx).First(&user, "email = ?", email).Error
	if err == nil {
		if profile.AvatarURL != nil && user.AvatarURL == nil {
			_ = h.DB.WithContext(ctx).Model(&models.User{}).
				Where("id = ?", user.ID).
				Update("avatar_url", *profile.AvatarURL).Error
			user.AvatarURL = profile.AvatarURL
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	displayName := strings.TrimSpace(profile.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	user = models.User{
		Email:        email,
		DisplayName:  displayName,
		Role:         models.UserRoleUser,
		AuthProvider: models.AuthProvider(profile.Provider),
		AvatarURL:    profile.AvatarURL,
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	logger.Info("sso_user_created", map[string]interface{}{
		"user_id":  user.ID.String(),
		"email":    user.Email,
		"provider": profile.Provider,
	})
	return &user, nil
}
