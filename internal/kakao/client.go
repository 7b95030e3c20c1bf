// Package kakao talks to the Kakao OAuth endpoints: consent URL construction,
// authorization-code exchange, token refresh, and profile lookup. Keeping every
// provider call behind this client keeps the rest of the service provider-agnostic.
package kakao

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	kakaoEndpoints "golang.org/x/oauth2/kakao"
)

const (
	defaultUserInfoURL = "https://kapi.kakao.com/v2/user/me"
	defaultCallTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// Config carries the application credentials registered with Kakao.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CallTimeout  time.Duration
}

// Client performs the provider-side half of the login flow.
type Client struct {
	configuration Config
	authURL       string
	tokenURL      string
	userInfoURL   string
	httpClient    *http.Client
}

// NewClient constructs a Client against the real Kakao endpoints.
func NewClient(configuration Config) *Client {
	timeout := configuration.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		configuration: configuration,
		authURL:       kakaoEndpoints.Endpoint.AuthURL,
		tokenURL:      kakaoEndpoints.Endpoint.TokenURL,
		userInfoURL:   defaultUserInfoURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

func (client *Client) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.configuration.ClientID,
		ClientSecret: client.configuration.ClientSecret,
		RedirectURL:  client.configuration.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  client.authURL,
			TokenURL: client.tokenURL,
			// Kakao expects client credentials in the form body, not basic auth.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (client *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client.httpClient)
	return context.WithTimeout(ctx, client.httpClient.Timeout)
}

// AuthorizeURL returns the consent-screen URL the browser is redirected to.
func (client *Client) AuthorizeURL() string {
	return client.oauth2Config().AuthCodeURL("")
}

// ExchangeCode trades a single-use authorization code for a provider token set.
func (client *Client) ExchangeCode(ctx context.Context, code string) (TokenSet, error) {
	if strings.TrimSpace(code) == "" {
		return TokenSet{}, fmt.Errorf("kakao.exchange.empty_code: %w", ErrExchangeFailed)
	}
	callCtx, cancel := client.callContext(ctx)
	defer cancel()
	token, exchangeErr := client.oauth2Config().Exchange(callCtx, code)
	if exchangeErr != nil {
		return TokenSet{}, fmt.Errorf("kakao.exchange: %w: %v", ErrExchangeFailed, exchangeErr)
	}
	return tokenSetFromOAuth2(token), nil
}

// Refresh trades a refresh token for a new token set.
//
// Kakao omits refresh_token from the response while the presented one still has
// roughly a month of validity left, so an absent refresh token is not an error;
// the caller keeps using the old one. The call is made directly rather than
// through an oauth2.TokenSource because the TokenSource back-fills the previous
// refresh token and would hide that omission.
func (client *Client) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenSet{}, fmt.Errorf("kakao.refresh.empty_token: %w", ErrExchangeFailed)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", client.configuration.ClientID)
	if client.configuration.ClientSecret != "" {
		form.Set("client_secret", client.configuration.ClientSecret)
	}
	form.Set("refresh_token", refreshToken)

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.tokenURL, strings.NewReader(form.Encode()))
	if requestErr != nil {
		return TokenSet{}, fmt.Errorf("kakao.refresh.request: %w: %v", ErrExchangeFailed, requestErr)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, callErr := client.httpClient.Do(request)
	if callErr != nil {
		return TokenSet{}, fmt.Errorf("kakao.refresh: %w: %v", ErrExchangeFailed, callErr)
	}
	defer func() { _ = response.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if readErr != nil {
		return TokenSet{}, fmt.Errorf("kakao.refresh.read: %w: %v", ErrExchangeFailed, readErr)
	}
	if response.StatusCode != http.StatusOK {
		return TokenSet{}, fmt.Errorf("kakao.refresh.status_%d: %w", response.StatusCode, ErrExchangeFailed)
	}

	var tokens TokenSet
	if unmarshalErr := json.Unmarshal(body, &tokens); unmarshalErr != nil {
		return TokenSet{}, fmt.Errorf("kakao.refresh.decode: %w: %v", ErrExchangeFailed, unmarshalErr)
	}
	if tokens.AccessToken == "" {
		return TokenSet{}, fmt.Errorf("kakao.refresh.missing_access_token: %w", ErrExchangeFailed)
	}
	return tokens, nil
}

// FetchProfile retrieves the provider identity behind an access token.
func (client *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Profile{}, fmt.Errorf("kakao.profile.empty_token: %w", ErrProfileFailed)
	}

	callCtx, cancel := client.callContext(ctx)
	defer cancel()
	bearer := oauth2.NewClient(callCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	response, callErr := bearer.Get(client.userInfoURL)
	if callErr != nil {
		return Profile{}, fmt.Errorf("kakao.profile: %w: %v", ErrProfileFailed, callErr)
	}
	defer func() { _ = response.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if readErr != nil {
		return Profile{}, fmt.Errorf("kakao.profile.read: %w: %v", ErrProfileFailed, readErr)
	}
	if response.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("kakao.profile.status_%d: %w", response.StatusCode, ErrProfileFailed)
	}
	return parseProfile(body)
}
