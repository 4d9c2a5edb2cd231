// Package httpapi serves the storefront REST surface used by the Mini App and admin panel.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/internal/telegramauth"
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRequestsPerMinute = 60
	defaultBodyLimitBytes    = 1 << 20
	defaultPurchaseTimeout   = 30 * time.Second
	shutdownTimeout          = 5 * time.Second
	contextKeyIdentity       = "storefront_identity"
	headerRequestID          = "X-Request-ID"
)

// Storefront is the service surface the handlers call.
type Storefront interface {
	ListAccounts(ctx context.Context, availableOnly bool) ([]storefront.Account, error)
	CreateAccount(ctx context.Context, input storefront.AccountInput) (storefront.Account, error)
	UpdateAccount(ctx context.Context, accountID storefront.RecordID, input storefront.AccountInput) (storefront.Account, error)
	DeleteAccount(ctx context.Context, accountID storefront.RecordID) error
	BuyAccount(ctx context.Context, request storefront.BuyAccountRequest) (storefront.Receipt, error)
	GetOrderStatus(ctx context.Context, orderID storefront.RecordID, requester storefront.TelegramID) (storefront.Order, error)

	ListListings(ctx context.Context) ([]storefront.ListingView, error)
	CreateListing(ctx context.Context, input storefront.ListingInput) (storefront.UsernameListing, error)
	UpdateListing(ctx context.Context, listingID storefront.RecordID, input storefront.ListingInput) (storefront.UsernameListing, error)
	DeleteListing(ctx context.Context, listingID storefront.RecordID) error
	RentUsername(ctx context.Context, request storefront.RentUsernameRequest) (storefront.Receipt, error)
	GetRentalStatus(ctx context.Context, rentalID storefront.RecordID, requester storefront.TelegramID) (storefront.Rental, error)

	ListOrders(ctx context.Context, filter storefront.RecordFilter) ([]storefront.Order, error)
	ListRentals(ctx context.Context, filter storefront.RecordFilter) ([]storefront.Rental, error)
	Stats(ctx context.Context) (storefront.Stats, error)
	GrantAdmin(ctx context.Context, telegramID storefront.TelegramID) (storefront.Admin, error)
	IsAdmin(ctx context.Context, telegramID storefront.TelegramID) (bool, error)
}

// Authenticator resolves the Authorization header.
type Authenticator interface {
	Authenticate(header string) (telegramauth.Identity, error)
}

// SessionIssuer mints bearer tokens for authenticated Mini App users.
type SessionIssuer interface {
	Issue(telegramID storefront.TelegramID) (string, time.Time, error)
}

// MetricsRecorder receives per-request observations.
type MetricsRecorder interface {
	ObserveHTTP(route string, method string, code int, elapsed time.Duration)
}

// Config tunes the router.
type Config struct {
	AllowedOrigins    []string
	RequestsPerMinute int
	RateLimitBurst    int
	BodyLimitBytes    int64
	PurchaseTimeout   time.Duration
}

// Dependencies are the collaborators wired into the router.
type Dependencies struct {
	Service        Storefront
	Authenticator  Authenticator
	Sessions       SessionIssuer
	Metrics        MetricsRecorder
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

type httpHandler struct {
	logger   *zap.Logger
	service  Storefront
	auth     Authenticator
	sessions SessionIssuer
	cfg      Config
}

// NewRouter builds the gin engine with every storefront route.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Service == nil || deps.Authenticator == nil {
		return nil, errors.New("httpapi: service and authenticator are required")
	}
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{logger: logger, service: deps.Service, auth: deps.Authenticator, sessions: deps.Sessions, cfg: cfg}

	router := gin.New()
	router.Use(requestID())
	router.Use(observe(logger, deps.Metrics))
	router.Use(gin.CustomRecovery(func(ctx *gin.Context, recovered any) {
		logger.Error("handler panic", zap.Any("panic", recovered), zap.String("path", ctx.Request.URL.Path))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(codeInternal, "internal error"))
	}))
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, errorResponse(codeNotFound, "route not found"))
	})

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	api := router.Group("/")
	api.Use(newRateLimiter(cfg.RequestsPerMinute, cfg.RateLimitBurst).middleware())
	api.Use(limitBody(cfg.BodyLimitBytes))

	api.POST("/auth/session", handler.requireIdentity, handler.handleSession)

	api.GET("/accounts", handler.handleListAccounts)
	api.POST("/accounts", handler.requireIdentity, handler.requireAdmin, handler.handleCreateAccount)
	api.PUT("/accounts/:id", handler.requireIdentity, handler.requireAdmin, handler.handleUpdateAccount)
	api.DELETE("/accounts/:id", handler.requireIdentity, handler.requireAdmin, handler.handleDeleteAccount)
	api.POST("/accounts/:id/buy", handler.requireIdentity, handler.handleBuyAccount)
	api.GET("/accounts/orders/:orderId", handler.requireIdentity, handler.handleOrderStatus)

	api.GET("/usernames", handler.handleListListings)
	api.POST("/usernames", handler.requireIdentity, handler.requireAdmin, handler.handleCreateListing)
	api.PUT("/usernames/:id", handler.requireIdentity, handler.requireAdmin, handler.handleUpdateListing)
	api.DELETE("/usernames/:id", handler.requireIdentity, handler.requireAdmin, handler.handleDeleteListing)
	api.POST("/usernames/:id/rent", handler.requireIdentity, handler.handleRentUsername)
	api.GET("/usernames/rentals/:rentalId", handler.requireIdentity, handler.handleRentalStatus)

	admin := api.Group("/admin", handler.requireIdentity, handler.requireAdmin)
	admin.GET("/accounts", handler.handleAdminAccounts)
	admin.GET("/orders", handler.handleAdminOrders)
	admin.GET("/rentals", handler.handleAdminRentals)
	admin.GET("/stats", handler.handleAdminStats)
	admin.POST("/admins", handler.handleGrantAdmin)

	return router, nil
}

// Serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, listenAddr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront http listening", zap.String("addr", listenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RequestsPerMinute
	}
	if cfg.BodyLimitBytes <= 0 {
		cfg.BodyLimitBytes = defaultBodyLimitBytes
	}
	if cfg.PurchaseTimeout <= 0 {
		cfg.PurchaseTimeout = defaultPurchaseTimeout
	}
	return cfg
}

func corsConfig(allowedOrigins []string) cors.Config {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Origin", "Accept", headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = allowedOrigins
	return config
}
