package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/store"
)

// Provider-specific structs
type gitHubUser struct {
	Login string `json:"login"`
	ID    int    `json:"id"`
}

type googleUser struct {
	Email string `json:"email"`
	Sub   string `json:"sub"`
}

var oauthAPIs = map[string]struct {
	URL     string
	Headers map[string]string
}{
	"github": {
		URL: "https://api.github.com/user",
		Headers: map[string]string{
			"X-GitHub-Api-Version": "2022-11-28",
		},
	},
	"google": {
		URL:     "https://openidconnect.googleapis.com/v1/userinfo",
		Headers: map[string]string{},
	},
}

var oauthConfigsTemplate = map[string]*oauth2.Config{
	"github": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		Scopes: []string{""},
	},
	"google": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"openid", "email"},
	},
}

func addOauthEndpointsAndScopes(oauthConfigs map[string]*oauth2.Config) (map[string]*oauth2.Config, error) {
	for provider := range oauthConfigs {
		template, ok := oauthConfigsTemplate[provider]
		if !ok {
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
		oauthConfigs[provider].Endpoint = template.Endpoint
		oauthConfigs[provider].Scopes = template.Scopes
	}

	return oauthConfigs, nil
}

// HandleOauth exchanges an authorization code and fetches the provider's
// user profile.
func (s *Service) HandleOauth(ctx context.Context, provider string, code string) (models.User, error) {
	conf, ok := s.OAuthConfigs[provider]
	if !ok {
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return models.User{}, fmt.Errorf("oauth exchange failed: %w", err)
	}

	client := conf.Client(ctx, tok)
	api, ok := oauthAPIs[provider]
	if !ok {
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", api.URL, nil)
	if err != nil {
		return models.User{}, err
	}
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return models.User{}, fmt.Errorf("oauth userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.User{}, err
	}

	return parseOauthUser(body, provider)
}

func parseOauthUser(jsonData []byte, provider string) (models.User, error) {
	var u models.User
	u.Provider = provider

	switch provider {
	case "github":
		var gh gitHubUser
		if err := json.Unmarshal(jsonData, &gh); err != nil {
			return models.User{}, err
		}
		u.Username = gh.Login
		u.ProviderId = strconv.Itoa(gh.ID)
	case "google":
		var g googleUser
		if err := json.Unmarshal(jsonData, &g); err != nil {
			return models.User{}, err
		}
		u.Username = g.Email
		u.ProviderId = g.Sub
	default:
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	return u, nil
}

// OAuthLogin signs a user in through an OAuth provider, creating the
// account on first login. A provider username colliding with an existing
// password account fails rather than merging identities.
func (s *Service) OAuthLogin(ctx context.Context, provider string, code string) (models.User, string, models.RefreshToken, error) {
	profile, err := s.HandleOauth(ctx, provider, code)
	if err != nil {
		return models.User{}, "", models.RefreshToken{}, ErrUnauthenticated
	}

	user, err := s.Store.GetUserByUsername(ctx, profile.Username)
	switch {
	case err == nil:
		if user.Provider != provider || user.ProviderId != profile.ProviderId {
			return models.User{}, "", models.RefreshToken{}, ErrUsernameTaken
		}
	case errors.Is(err, store.ErrItemNotFound):
		user, err = s.Store.CreateUser(ctx, profile)
		if err != nil {
			if errors.Is(err, store.ErrItemExists) {
				return models.User{}, "", models.RefreshToken{}, ErrUsernameTaken
			}
			return models.User{}, "", models.RefreshToken{}, err
		}
	default:
		return models.User{}, "", models.RefreshToken{}, err
	}

	accessToken, err := s.IssueAccessToken(user, 0)
	if err != nil {
		return models.User{}, "", models.RefreshToken{}, err
	}

	refreshToken, err := s.IssueRefreshToken(ctx, user.Id)
	if err != nil {
		return models.User{}, "", models.RefreshToken{}, err
	}

	return user, accessToken, refreshToken, nil
}
