package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/freshbasket/freshbasket/internal/authkit"
	"github.com/freshbasket/freshbasket/internal/basket"
	"github.com/freshbasket/freshbasket/internal/kakao"
	"github.com/freshbasket/freshbasket/internal/store"
)

type stubOAuthClient struct {
	exchangeCalls int
	refreshSet    kakao.TokenSet
	refreshErr    error
	profileErr    error
}

func (stub *stubOAuthClient) AuthorizeURL() string {
	return "https://kauth.kakao.com/oauth/authorize?client_id=client-id&redirect_uri=https%3A%2F%2Fapp.example.com%2Foauth&response_type=code"
}

func (stub *stubOAuthClient) ExchangeCode(ctx context.Context, code string) (kakao.TokenSet, error) {
	stub.exchangeCalls++
	if code != "abc123" {
		return kakao.TokenSet{}, fmt.Errorf("stub.exchange.%s: %w", code, kakao.ErrExchangeFailed)
	}
	return kakao.TokenSet{AccessToken: "T1", TokenType: "bearer", RefreshToken: "R1", ExpiresIn: 21599}, nil
}

func (stub *stubOAuthClient) Refresh(ctx context.Context, refreshToken string) (kakao.TokenSet, error) {
	if stub.refreshErr != nil {
		return kakao.TokenSet{}, stub.refreshErr
	}
	return stub.refreshSet, nil
}

func (stub *stubOAuthClient) FetchProfile(ctx context.Context, accessToken string) (kakao.Profile, error) {
	if stub.profileErr != nil {
		return kakao.Profile{}, stub.profileErr
	}
	if accessToken != "T1" {
		return kakao.Profile{}, fmt.Errorf("stub.profile.%s: %w", accessToken, kakao.ErrProfileFailed)
	}
	return kakao.Profile{
		ID:       "u1",
		Nickname: "Kim",
		Raw:      map[string]any{"id": float64(1), "properties": map[string]any{"nickname": "Kim"}},
	}, nil
}

type testEnv struct {
	router        *gin.Engine
	oauth         *stubOAuthClient
	memory        *store.MemoryStore
	configuration authkit.ServerConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	configuration := authkit.ServerConfig{
		SigningKey:        []byte("test-signing-key"),
		Issuer:            "freshbasket",
		AccessTTL:         time.Minute,
		RefreshTTL:        time.Hour,
		SameSiteMode:      http.SameSiteLaxMode,
		AllowInsecureHTTP: true,
	}
	oauth := &stubOAuthClient{}
	memory := store.NewMemoryStore()
	baskets := basket.NewStore(time.Minute)
	t.Cleanup(baskets.Close)

	handlers := NewHandlers(configuration, oauth, memory, memory, baskets, zaptest.NewLogger(t))

	templates, templatesErr := LoadTemplates()
	if templatesErr != nil {
		t.Fatalf("failed to parse templates: %v", templatesErr)
	}
	router := gin.New()
	router.SetHTMLTemplate(templates)
	MountRoutes(router, handlers)

	return &testEnv{router: router, oauth: oauth, memory: memory, configuration: configuration}
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func (env *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/oauth?code=abc123", nil)
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", recorder.Code)
	}
	return recorder.Result().Cookies()
}

func TestLoginFlowSetsSessionCookiesAndStoresIdentity(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/oauth?code=abc123", nil)
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "Kim") {
		t.Fatalf("expected address page to greet the user")
	}

	cookies := recorder.Result().Cookies()
	for _, name := range []string{
		authkit.AccessCookieName,
		authkit.RefreshCookieName,
		authkit.AccessCSRFCookieName,
		authkit.RefreshCSRFCookieName,
	} {
		if cookieByName(cookies, name) == nil {
			t.Fatalf("expected cookie %s to be set", name)
		}
	}
	logined := cookieByName(cookies, authkit.LoginedCookieName)
	if logined == nil || logined.Value != "true" {
		t.Fatalf("expected logined=true cookie, got %+v", logined)
	}

	accessCookie := cookieByName(cookies, authkit.AccessCookieName)
	if !accessCookie.HttpOnly {
		t.Fatalf("expected access cookie to be HttpOnly")
	}
	csrfCookie := cookieByName(cookies, authkit.AccessCSRFCookieName)
	if csrfCookie.HttpOnly {
		t.Fatalf("expected csrf twin to be readable by scripts")
	}

	stored, getErr := env.memory.Get(context.Background(), "u1")
	if getErr != nil {
		t.Fatalf("expected identity to be stored: %v", getErr)
	}
	if stored.Nickname != "Kim" {
		t.Fatalf("expected stored nickname Kim, got %q", stored.Nickname)
	}
}

func TestLoginFailedExchangeDoesNotUpsert(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/oauth?code=already-used", nil)
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for rejected code, got %d", recorder.Code)
	}
	if _, getErr := env.memory.Get(context.Background(), "u1"); getErr == nil {
		t.Fatalf("expected no identity upsert after a failed exchange")
	}
	if cookieByName(recorder.Result().Cookies(), authkit.AccessCookieName) != nil {
		t.Fatalf("expected no session cookies after a failed exchange")
	}
}

func TestLoginMissingCode(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/oauth", nil)
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without code, got %d", recorder.Code)
	}
	if env.oauth.exchangeCalls != 0 {
		t.Fatalf("expected no provider call without a code")
	}
}

func TestUserInfoRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session cookie, got %d", recorder.Code)
	}
}

func TestUserInfoReturnsStoredIdentity(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	request.AddCookie(cookieByName(cookies, authkit.AccessCookieName))
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from userinfo, got %d", recorder.Code)
	}
	var payload struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
	}
	if unmarshalErr := json.Unmarshal(recorder.Body.Bytes(), &payload); unmarshalErr != nil {
		t.Fatalf("failed to decode userinfo: %v", unmarshalErr)
	}
	if payload.ID != "u1" || payload.Nickname != "Kim" {
		t.Fatalf("unexpected userinfo payload %+v", payload)
	}
}

func TestUserInfoRejectsVanishedIdentity(t *testing.T) {
	env := newTestEnv(t)

	token, _, _, mintErr := authkit.MintSessionToken(authkit.CurrentClock(), "ghost", authkit.TokenKindAccess, env.configuration, time.Minute)
	if mintErr != nil {
		t.Fatalf("unexpected mint error: %v", mintErr)
	}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	request.AddCookie(&http.Cookie{Name: authkit.AccessCookieName, Value: token})
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for identity missing from store, got %d", recorder.Code)
	}
}

func TestLogoutClearsCookiesAndLocksOutClient(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/token/remove", nil)
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", recorder.Code)
	}
	if body := recorder.Body.String(); body != `{"result":true}` {
		t.Fatalf("unexpected logout body %s", body)
	}
	cleared := cookieByName(recorder.Result().Cookies(), authkit.AccessCookieName)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected access cookie to be unset, got %+v", cleared)
	}
	if loginedCleared := cookieByName(recorder.Result().Cookies(), authkit.LoginedCookieName); loginedCleared == nil || loginedCleared.MaxAge >= 0 {
		t.Fatalf("expected logined cookie to be unset")
	}

	// The browser dropped its cookies, so the next request carries none.
	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/userinfo", nil)
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", recorder.Code)
	}
}

func TestTokenRefreshReissuesAccessCookie(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/token/refresh", nil)
	request.AddCookie(cookieByName(cookies, authkit.RefreshCookieName))
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d", recorder.Code)
	}
	if body := recorder.Body.String(); body != `{"result":true}` {
		t.Fatalf("unexpected refresh body %s", body)
	}
	newAccess := cookieByName(recorder.Result().Cookies(), authkit.AccessCookieName)
	if newAccess == nil || newAccess.Value == "" {
		t.Fatalf("expected a fresh access cookie")
	}
	if _, validateErr := authkit.ValidateSessionToken(authkit.CurrentClock(), newAccess.Value, authkit.TokenKindAccess, env.configuration); validateErr != nil {
		t.Fatalf("expected reissued access token to validate: %v", validateErr)
	}
}

func TestTokenRefreshPostNeedsCSRF(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)
	refreshCookie := cookieByName(cookies, authkit.RefreshCookieName)
	csrfCookie := cookieByName(cookies, authkit.RefreshCSRFCookieName)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/token/refresh", nil)
	request.AddCookie(refreshCookie)
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF header, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/token/refresh", nil)
	request.AddCookie(refreshCookie)
	request.Header.Set(authkit.CSRFHeaderName, csrfCookie.Value)
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with CSRF header, got %d", recorder.Code)
	}
}

func TestTokenRefreshRejectsAccessCookie(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)
	accessCookie := cookieByName(cookies, authkit.AccessCookieName)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/token/refresh", nil)
	request.AddCookie(&http.Cookie{Name: authkit.RefreshCookieName, Value: accessCookie.Value})
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token in refresh cookie, got %d", recorder.Code)
	}
}

func TestOAuthURLExposesConsentURL(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/oauth/url", nil)
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from oauth url, got %d", recorder.Code)
	}
	var payload struct {
		KakaoOAuthURL string `json:"kakao_oauth_url"`
	}
	if unmarshalErr := json.Unmarshal(recorder.Body.Bytes(), &payload); unmarshalErr != nil {
		t.Fatalf("failed to decode oauth url payload: %v", unmarshalErr)
	}
	if !strings.Contains(payload.KakaoOAuthURL, "response_type=code") {
		t.Fatalf("unexpected consent URL %q", payload.KakaoOAuthURL)
	}
}

func TestOAuthRefreshProxyKeepsWithheldRefreshTokenAbsent(t *testing.T) {
	env := newTestEnv(t)
	env.oauth.refreshSet = kakao.TokenSet{AccessToken: "T2", TokenType: "bearer", ExpiresIn: 21599}

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/oauth/refresh", strings.NewReader(`{"refresh_token":"R1"}`))
	request.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from refresh proxy, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if strings.Contains(body, "refresh_token") {
		t.Fatalf("expected refresh_token to stay absent, got %s", body)
	}
	if !strings.Contains(body, `"access_token":"T2"`) {
		t.Fatalf("expected provider access token in response, got %s", body)
	}
}

func TestOAuthRefreshProxyValidation(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/oauth/refresh", strings.NewReader(`{}`))
	request.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing refresh_token, got %d", recorder.Code)
	}
}

func TestOAuthUserInfoProxyReturnsRawPayload(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/oauth/userinfo", strings.NewReader(`{"access_token":"T1"}`))
	request.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from userinfo proxy, got %d", recorder.Code)
	}
	var payload map[string]any
	if unmarshalErr := json.Unmarshal(recorder.Body.Bytes(), &payload); unmarshalErr != nil {
		t.Fatalf("failed to decode proxy payload: %v", unmarshalErr)
	}
	if _, hasProperties := payload["properties"]; !hasProperties {
		t.Fatalf("expected raw provider payload, got %v", payload)
	}
}

func TestOAuthUserInfoProxyProviderFailure(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/oauth/userinfo", strings.NewReader(`{"access_token":"expired"}`))
	request.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for provider rejection, got %d", recorder.Code)
	}
}

func TestBasketSelectionsAreSessionScoped(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/receive-ingredients", strings.NewReader(`{"ingredients":["tofu","scallion"]}`))
	request.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from receive-ingredients, got %d", recorder.Code)
	}
	basketCookie := cookieByName(recorder.Result().Cookies(), BasketCookieName)
	if basketCookie == nil {
		t.Fatalf("expected a basket cookie on first write")
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/index/delivery/send_price", nil)
	request.AddCookie(basketCookie)
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from price page, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "tofu") {
		t.Fatalf("expected selected ingredients on the price page")
	}

	// A different browser session sees its own, empty basket.
	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/index/delivery/send_price", nil)
	env.router.ServeHTTP(recorder, request)
	if strings.Contains(recorder.Body.String(), "tofu") {
		t.Fatalf("expected basket isolation between sessions")
	}
}

func TestReceiveAddressRendersOnDeliveryPage(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/receive-address", strings.NewReader(`{"city":"Seoul","county":"Mapo-gu","detail_address":"12-3"}`))
	request.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from receive-address, got %d", recorder.Code)
	}
	basketCookie := cookieByName(recorder.Result().Cookies(), BasketCookieName)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/index/delivery", nil)
	request.AddCookie(basketCookie)
	env.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from delivery page, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "Seoul") || !strings.Contains(body, "Mapo-gu") {
		t.Fatalf("expected delivery page to show the stored address, got %s", body)
	}
}

func TestSendAddressDeliverPersistsAddress(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("city", "Seoul")
	form.Set("county", "Gangnam-gu")
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/send_address_deliver", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env.router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from send_address_deliver, got %d", recorder.Code)
	}
	addresses := env.memory.Addresses()
	if len(addresses) != 1 {
		t.Fatalf("expected one persisted address, got %d", len(addresses))
	}
	if addresses[0].City != "Seoul" || addresses[0].County != "Gangnam-gu" {
		t.Fatalf("unexpected persisted address %+v", addresses[0])
	}
}
