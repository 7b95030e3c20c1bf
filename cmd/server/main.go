package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/freshbasket/freshbasket/internal/authkit"
	"github.com/freshbasket/freshbasket/internal/basket"
	"github.com/freshbasket/freshbasket/internal/kakao"
	"github.com/freshbasket/freshbasket/internal/store"
	"github.com/freshbasket/freshbasket/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "freshbasket",
		Short:   "Grocery ordering service with Kakao login, JWT cookie sessions, and per-session baskets",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("kakao_client_id", "", "Kakao REST API key")
	rootCmd.Flags().String("kakao_client_secret", "", "Kakao client secret; optional unless enabled in the Kakao console")
	rootCmd.Flags().String("kakao_redirect_uri", "", "Redirect URI registered with Kakao")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for session JWTs")
	rootCmd.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 14*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Duration("basket_ttl", 2*time.Hour, "Idle lifetime of basket selections")
	rootCmd.Flags().Duration("oauth_timeout", 10*time.Second, "Timeout for calls to the Kakao API")
	rootCmd.Flags().String("database_url", "", "Database URL for users and addresses (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("cookie_domain", rootCmd.Flags().Lookup("cookie_domain"))
	_ = viper.BindPFlag("kakao_client_id", rootCmd.Flags().Lookup("kakao_client_id"))
	_ = viper.BindPFlag("kakao_client_secret", rootCmd.Flags().Lookup("kakao_client_secret"))
	_ = viper.BindPFlag("kakao_redirect_uri", rootCmd.Flags().Lookup("kakao_redirect_uri"))
	_ = viper.BindPFlag("jwt_signing_key", rootCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("access_ttl", rootCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", rootCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("basket_ttl", rootCmd.Flags().Lookup("basket_ttl"))
	_ = viper.BindPFlag("oauth_timeout", rootCmd.Flags().Lookup("oauth_timeout"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionIssuer = "freshbasket"

	configCodeMissingKakaoClientID    = "config.missing_kakao_client_id"
	configCodeMissingKakaoRedirectURI = "config.missing_kakao_redirect_uri"
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const (
	serverConfigContextKey contextKey = "serverConfig"
	kakaoConfigContextKey  contextKey = "kakaoConfig"
)

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, serverErr := LoadServerConfig()
	if serverErr != nil {
		return serverErr
	}
	kakaoConfig, kakaoErr := LoadKakaoConfig()
	if kakaoErr != nil {
		return kakaoErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	existingContext = context.WithValue(existingContext, serverConfigContextKey, serverConfig)
	existingContext = context.WithValue(existingContext, kakaoConfigContextKey, kakaoConfig)
	command.SetContext(existingContext)
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (authkit.ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	return authkit.ServerConfig{
		SigningKey:   []byte(jwtSigningKey),
		Issuer:       sessionIssuer,
		CookieDomain: viper.GetString("cookie_domain"),
		AccessTTL:    accessTTL,
		RefreshTTL:   refreshTTL,
	}, nil
}

func LoadKakaoConfig() (kakao.Config, error) {
	clientID := viper.GetString("kakao_client_id")
	if clientID == "" {
		return kakao.Config{}, configError(configCodeMissingKakaoClientID, "kakao_client_id must be provided")
	}

	redirectURI := viper.GetString("kakao_redirect_uri")
	if redirectURI == "" {
		return kakao.Config{}, configError(configCodeMissingKakaoRedirectURI, "kakao_redirect_uri must be provided")
	}

	return kakao.Config{
		ClientID:     clientID,
		ClientSecret: viper.GetString("kakao_client_secret"),
		RedirectURI:  redirectURI,
		CallTimeout:  viper.GetDuration("oauth_timeout"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var serverConfigValue, kakaoConfigValue any
	if commandContext != nil {
		serverConfigValue = commandContext.Value(serverConfigContextKey)
		kakaoConfigValue = commandContext.Value(kakaoConfigContextKey)
	}
	serverConfig, serverConfigReady := serverConfigValue.(authkit.ServerConfig)
	kakaoConfig, kakaoConfigReady := kakaoConfigValue.(kakao.Config)
	if !serverConfigReady || !kakaoConfigReady {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	basketTTL := viper.GetDuration("basket_ttl")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	serverConfig.AllowInsecureHTTP = devInsecureHTTP
	serverConfig.SameSiteMode = http.SameSiteStrictMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	var users store.UserStore
	var addresses store.AddressStore
	if databaseURL != "" {
		persistentStore, storeErr := store.NewDatabaseStore(context.Background(), databaseURL)
		if storeErr != nil {
			return storeErr
		}
		users = persistentStore
		addresses = persistentStore
		logger.Info("using persistent user store", zap.String("driver", persistentStore.Driver()))
	} else {
		memoryStore := store.NewMemoryStore()
		users = memoryStore
		addresses = memoryStore
		logger.Info("using in-memory user store")
	}

	baskets := basket.NewStore(basketTTL)
	defer baskets.Close()

	clock := authkit.NewSystemClock()
	authkit.ProvideClock(clock)
	defer authkit.ProvideClock(nil)

	authkit.ProvideLogger(logger)
	defer authkit.ProvideLogger(nil)

	metricsRecorder := authkit.NewCounterMetrics()
	authkit.ProvideMetrics(metricsRecorder)
	defer authkit.ProvideMetrics(nil)

	oauthClient := kakao.NewClient(kakaoConfig)

	templates, templatesErr := web.LoadTemplates()
	if templatesErr != nil {
		return templatesErr
	}
	router.SetHTMLTemplate(templates)

	handlers := web.NewHandlers(serverConfig, oauthClient, users, addresses, baskets, logger)
	web.MountRoutes(router, handlers)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
