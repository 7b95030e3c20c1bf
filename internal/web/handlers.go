// Package web contains the HTTP surface: the login flow, token endpoints,
// provider proxies, and the server-rendered ordering pages.
package web

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freshbasket/freshbasket/internal/authkit"
	"github.com/freshbasket/freshbasket/internal/basket"
	"github.com/freshbasket/freshbasket/internal/kakao"
	"github.com/freshbasket/freshbasket/internal/store"
	webassets "github.com/freshbasket/freshbasket/web"
)

// BasketCookieName identifies the browser session owning basket selections.
const BasketCookieName = "basket_id"

// OAuthClient is the provider-side surface the handlers depend on; tests stub it.
type OAuthClient interface {
	AuthorizeURL() string
	ExchangeCode(ctx context.Context, code string) (kakao.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (kakao.TokenSet, error)
	FetchProfile(ctx context.Context, accessToken string) (kakao.Profile, error)
}

// Handlers bundles the collaborators behind the HTTP surface.
type Handlers struct {
	configuration authkit.ServerConfig
	oauth         OAuthClient
	users         store.UserStore
	addresses     store.AddressStore
	baskets       *basket.Store
	logger        *zap.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(configuration authkit.ServerConfig, oauth OAuthClient, users store.UserStore, addresses store.AddressStore, baskets *basket.Store, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		configuration: configuration,
		oauth:         oauth,
		users:         users,
		addresses:     addresses,
		baskets:       baskets,
		logger:        logger,
	}
}

// LoadTemplates parses the embedded page templates for gin's HTML renderer.
func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(webassets.Templates, "templates/*.html")
}

// MountRoutes registers the whole HTTP surface on the router.
func MountRoutes(router gin.IRouter, handlers *Handlers) {
	router.GET("/", handlers.HandleIndex)

	router.GET("/oauth", handlers.HandleOAuthLogin)
	router.GET("/oauth/url", handlers.HandleOAuthURL)
	router.POST("/oauth/refresh", handlers.HandleOAuthRefreshProxy)
	router.POST("/oauth/userinfo", handlers.HandleOAuthUserInfoProxy)

	router.GET("/token/refresh", authkit.RequireRefresh(handlers.configuration), handlers.HandleTokenRefresh)
	router.POST("/token/refresh", authkit.RequireRefresh(handlers.configuration), handlers.HandleTokenRefresh)
	router.GET("/token/remove", handlers.HandleTokenRemove)

	router.GET("/userinfo", authkit.RequireAccess(handlers.configuration), handlers.HandleUserInfo)

	router.POST("/receive-ingredients", handlers.HandleReceiveIngredients)
	router.POST("/receive-address", handlers.HandleReceiveAddress)
	router.GET("/index/delivery", handlers.HandleDelivery)
	router.GET("/index/delivery/send_price", handlers.HandlePrice)
	router.POST("/send_address_deliver", handlers.HandleSendAddressDeliver)
}

// HandleIndex renders the landing page.
func (handlers *Handlers) HandleIndex(contextGin *gin.Context) {
	contextGin.HTML(http.StatusOK, "index.html", gin.H{})
}

// HandleOAuthLogin completes the provider login: exchanges the authorization
// code, fetches the provider profile, upserts the identity, and sets the
// session cookies before rendering the address page.
func (handlers *Handlers) HandleOAuthLogin(contextGin *gin.Context) {
	code := contextGin.Query("code")
	if strings.TrimSpace(code) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_code"})
		return
	}
	if !handlers.configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
		return
	}

	tokens, exchangeErr := handlers.oauth.ExchangeCode(contextGin.Request.Context(), code)
	if exchangeErr != nil {
		handlers.logger.Warn("authorization code exchange failed",
			zap.String("code", "oauth.login.exchange_failed"),
			zap.Error(exchangeErr))
		authkit.RecordEvent(authkit.EventLoginRejected)
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "oauth_exchange_failed"})
		return
	}

	profile, profileErr := handlers.oauth.FetchProfile(contextGin.Request.Context(), tokens.AccessToken)
	if profileErr != nil {
		handlers.logger.Warn("provider profile fetch failed",
			zap.String("code", "oauth.login.profile_failed"),
			zap.Error(profileErr))
		authkit.RecordEvent(authkit.EventLoginRejected)
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "oauth_profile_failed"})
		return
	}

	user := store.User{
		ID:             profile.ID,
		Nickname:       profile.Nickname,
		ProfileImage:   profile.ProfileImage,
		ThumbnailImage: profile.ThumbnailImage,
	}
	if upsertErr := handlers.users.Upsert(contextGin.Request.Context(), user); upsertErr != nil {
		handlers.logger.Error("identity upsert failed",
			zap.String("code", "oauth.login.upsert_failed"),
			zap.String("user_id", profile.ID),
			zap.Error(upsertErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	clock := authkit.CurrentClock()
	accessToken, accessCSRF, accessExpiry, accessErr := authkit.MintSessionToken(clock, user.ID, authkit.TokenKindAccess, handlers.configuration, handlers.configuration.AccessTTL)
	if accessErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	refreshToken, refreshCSRF, refreshExpiry, refreshErr := authkit.MintSessionToken(clock, user.ID, authkit.TokenKindRefresh, handlers.configuration, handlers.configuration.RefreshTTL)
	if refreshErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	authkit.WriteAccessCookies(contextGin, handlers.configuration, accessToken, accessCSRF, accessExpiry)
	authkit.WriteRefreshCookies(contextGin, handlers.configuration, refreshToken, refreshCSRF, refreshExpiry)
	authkit.WriteLoginedCookie(contextGin, handlers.configuration, refreshExpiry)
	authkit.RecordEvent(authkit.EventLoginSucceeded)

	contextGin.HTML(http.StatusOK, "address.html", gin.H{"nickname": user.Nickname})
}

// HandleTokenRefresh reissues the access cookie for a valid refresh session.
func (handlers *Handlers) HandleTokenRefresh(contextGin *gin.Context) {
	identity, found := authkit.IdentityFromContext(contextGin)
	if !found {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	accessToken, accessCSRF, accessExpiry, mintErr := authkit.MintSessionToken(authkit.CurrentClock(), identity, authkit.TokenKindAccess, handlers.configuration, handlers.configuration.AccessTTL)
	if mintErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	authkit.WriteAccessCookies(contextGin, handlers.configuration, accessToken, accessCSRF, accessExpiry)
	authkit.RecordEvent(authkit.EventRefreshSucceeded)
	contextGin.JSON(http.StatusOK, gin.H{"result": true})
}

// HandleTokenRemove clears the session cookies; tokens themselves stay valid
// until natural expiry.
func (handlers *Handlers) HandleTokenRemove(contextGin *gin.Context) {
	authkit.ClearSessionCookies(contextGin, handlers.configuration)
	authkit.RecordEvent(authkit.EventLogout)
	contextGin.JSON(http.StatusOK, gin.H{"result": true})
}

// HandleOAuthURL returns the provider consent URL for the frontend.
func (handlers *Handlers) HandleOAuthURL(contextGin *gin.Context) {
	contextGin.JSON(http.StatusOK, gin.H{"kakao_oauth_url": handlers.oauth.AuthorizeURL()})
}

// HandleUserInfo returns the stored identity for the current session. A valid
// cookie whose identity has vanished from the store is rejected rather than
// trusted.
func (handlers *Handlers) HandleUserInfo(contextGin *gin.Context) {
	identity, found := authkit.IdentityFromContext(contextGin)
	if !found {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	user, getErr := handlers.users.Get(contextGin.Request.Context(), identity)
	if getErr != nil {
		if errors.Is(getErr, store.ErrUserNotFound) {
			handlers.logger.Warn("session identity missing from store",
				zap.String("code", "userinfo.unknown_identity"),
				zap.String("user_id", identity))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown_identity"})
			return
		}
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.JSON(http.StatusOK, user)
}

// HandleOAuthRefreshProxy forwards a provider refresh grant and returns the
// provider token set verbatim; a withheld refresh_token stays absent.
func (handlers *Handlers) HandleOAuthRefreshProxy(contextGin *gin.Context) {
	var inbound struct {
		RefreshToken string `json:"refresh_token"`
	}
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_error"})
		return
	}

	tokens, refreshErr := handlers.oauth.Refresh(contextGin.Request.Context(), inbound.RefreshToken)
	if refreshErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "oauth_exchange_failed"})
		return
	}
	contextGin.JSON(http.StatusOK, tokens)
}

// HandleOAuthUserInfoProxy forwards a provider profile fetch for a raw access
// token and returns the provider payload untouched.
func (handlers *Handlers) HandleOAuthUserInfoProxy(contextGin *gin.Context) {
	var inbound struct {
		AccessToken string `json:"access_token"`
	}
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.AccessToken) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_error"})
		return
	}

	profile, profileErr := handlers.oauth.FetchProfile(contextGin.Request.Context(), inbound.AccessToken)
	if profileErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "oauth_profile_failed"})
		return
	}
	if profile.Raw != nil {
		contextGin.JSON(http.StatusOK, profile.Raw)
		return
	}
	contextGin.JSON(http.StatusOK, profile)
}

// HandleReceiveIngredients stores the session's ingredient selection.
func (handlers *Handlers) HandleReceiveIngredients(contextGin *gin.Context) {
	var inbound struct {
		Ingredients []string `json:"ingredients"`
	}
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_error"})
		return
	}
	handlers.baskets.SetIngredients(handlers.basketID(contextGin), inbound.Ingredients)
	contextGin.JSON(http.StatusOK, gin.H{"message": "Selected ingredients received successfully."})
}

// HandleReceiveAddress stores the session's delivery address.
func (handlers *Handlers) HandleReceiveAddress(contextGin *gin.Context) {
	var inbound basket.Address
	if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_error"})
		return
	}
	handlers.baskets.SetAddress(handlers.basketID(contextGin), inbound)
	contextGin.JSON(http.StatusOK, gin.H{"message": "address received successfully."})
}

// HandleDelivery renders the delivery page from the session's address.
func (handlers *Handlers) HandleDelivery(contextGin *gin.Context) {
	selection, _ := handlers.baskets.Get(handlers.basketID(contextGin))
	contextGin.HTML(http.StatusOK, "delivery.html", gin.H{
		"city":           selection.Address.City,
		"county":         selection.Address.County,
		"detail_address": selection.Address.Detail,
	})
}

// HandlePrice renders the price page from the session's ingredient selection.
func (handlers *Handlers) HandlePrice(contextGin *gin.Context) {
	selection, _ := handlers.baskets.Get(handlers.basketID(contextGin))
	contextGin.HTML(http.StatusOK, "send_price.html", gin.H{"ingredients": selection.Ingredients})
}

// HandleSendAddressDeliver persists the confirmed address and returns home.
func (handlers *Handlers) HandleSendAddressDeliver(contextGin *gin.Context) {
	city := strings.TrimSpace(contextGin.PostForm("city"))
	county := strings.TrimSpace(contextGin.PostForm("county"))
	if city == "" || county == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_error"})
		return
	}
	address := store.DeliveryAddress{
		City:   city,
		County: county,
		Detail: contextGin.PostForm("detail_address"),
	}
	if saveErr := handlers.addresses.Save(contextGin.Request.Context(), address); saveErr != nil {
		handlers.logger.Error("address save failed",
			zap.String("code", "delivery.address_save_failed"),
			zap.Error(saveErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.HTML(http.StatusOK, "index.html", gin.H{})
}

func (handlers *Handlers) basketID(contextGin *gin.Context) string {
	if cookie, cookieErr := contextGin.Request.Cookie(BasketCookieName); cookieErr == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := uuid.NewString()
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     BasketCookieName,
		Value:    id,
		Path:     "/",
		Domain:   handlers.configuration.CookieDomain,
		Secure:   !handlers.configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: handlers.configuration.SameSiteMode,
	})
	return id
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
