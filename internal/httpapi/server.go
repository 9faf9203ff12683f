package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mutualaid/internal/marketplace"
	"github.com/MarkoPoloResearchLab/mutualaid/internal/oplog"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

var errMissingMarketplace = errors.New("marketplace service is required")

// Dependencies are the collaborators the HTTP facade serves.
type Dependencies struct {
	Marketplace *marketplace.Service
	Logger      *zap.Logger
	Metrics     *oplog.Metrics
	Gatherer    prometheus.Gatherer
}

// NewSessionValidator builds the tauth cookie validator from configuration.
func NewSessionValidator(cfg Config) (*sessionvalidator.Validator, error) {
	return sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
}

// Run serves the HTTP facade until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
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
		return err
	}
}

// NewRouter wires routes, CORS, session auth and metrics.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Marketplace == nil {
		return nil, errMissingMarketplace
	}
	validator, err := NewSessionValidator(cfg)
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observeRequests(deps.Metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	handler := &httpHandler{
		logger:      logger,
		marketplace: deps.Marketplace,
		timeout:     cfg.RequestTimeout,
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)
	api.GET("/wallet", handler.handleWallet)
	api.POST("/wallet/grants", handler.handleGrant)
	api.POST("/tasks/payments", handler.handleTaskPayment)
	api.POST("/rentals", handler.handleRequestRental)
	api.GET("/rentals", handler.handleListRentals)
	api.PATCH("/rentals/:id/status", handler.handleRentalStatus)
	api.GET("/notifications", handler.handleListNotifications)
	api.DELETE("/notifications/:id", handler.handleRemoveNotification)
	api.DELETE("/notifications", handler.handleClearNotifications)

	return router, nil
}

func observeRequests(metrics *oplog.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(ctx.Request.Method, route, ctx.Writer.Status(), time.Since(started))
	}
}

type httpHandler struct {
	logger      *zap.Logger
	marketplace *marketplace.Service
	timeout     time.Duration
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()
	snapshot, err := handler.marketplace.Wallet(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "wallet", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(snapshot)})
}

func (handler *httpHandler) handleGrant(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var payload grantRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		handler.reject(ctx, userID, marketplace.ActionGrant, "invalid_json", malformed(err))
		return
	}
	amount, err := ledger.NewPositiveCredits(payload.Credits)
	if err != nil {
		handler.reject(ctx, userID, marketplace.ActionGrant, "invalid_credits", err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()
	snapshot, err := handler.marketplace.Grant(requestCtx, userID, amount, payload.Note)
	if err != nil {
		handler.respondError(ctx, "grant", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(snapshot)})
}

func (handler *httpHandler) handleTaskPayment(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var payload taskPaymentRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		handler.reject(ctx, userID, marketplace.ActionPayment, "invalid_json", malformed(err))
		return
	}
	amount, err := ledger.NewPositiveCredits(payload.Credits)
	if err != nil {
		handler.reject(ctx, userID, marketplace.ActionPayment, "invalid_credits", err)
		return
	}
	payeeID, err := ledger.NewUserID(payload.PayeeID)
	if err != nil {
		handler.reject(ctx, userID, marketplace.ActionPayment, "invalid_payee", err)
		return
	}
	payment := marketplace.TaskPayment{
		TaskID:  strings.TrimSpace(payload.TaskID),
		Title:   strings.TrimSpace(payload.Title),
		PayerID: userID,
		PayeeID: payeeID,
		Amount:  amount,
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()
	if payload.Completed {
		err = handler.marketplace.CompleteTask(requestCtx, payment)
	} else {
		err = handler.marketplace.PayForTask(requestCtx, payment)
	}
	if err != nil && !errors.Is(err, ledger.ErrInsufficientBalance) {
		handler.respondError(ctx, "task_payment", err)
		return
	}
	handler.respondPaymentStatus(requestCtx, ctx, userID, err == nil)
}

func (handler *httpHandler) respondPaymentStatus(requestCtx context.Context, ctx *gin.Context, userID ledger.UserID, success bool) {
	snapshot, err := handler.marketplace.Wallet(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "wallet", err)
		return
	}
	status := "success"
	if !success {
		status = "insufficient_funds"
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status": status,
		"wallet": newWalletPayload(snapshot),
	})
}

func (handler *httpHandler) handleRequestRental(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var payload rentalRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		handler.reject(ctx, userID, marketplace.ActionRentalRequest, "invalid_json", malformed(err))
		return
	}
	ownerID, err := ledger.NewUserID(payload.OwnerID)
	if err != nil {
		handler.reject(ctx, userID, marketplace.ActionRentalRequest, "invalid_owner", err)
		return
	}
	startDate, err := parseDate(payload.StartDate)
	if err != nil {
		handler.reject(ctx, userID, marketplace.ActionRentalRequest, "invalid_start_date", err)
		return
	}
	endDate, err := parseDate(payload.EndDate)
	if err != nil {
		handler.reject(ctx, userID, marketplace.ActionRentalRequest, "invalid_end_date", err)
		return
	}
	request := rental.RentalRequest{
		ItemID:         payload.ItemID,
		OwnerID:        ownerID,
		RenterID:       userID,
		StartDate:      startDate,
		EndDate:        endDate,
		DailyPrice:     ledger.Credits(payload.DailyPrice),
		DepositCredits: ledger.Credits(payload.DepositCredits),
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()
	record, err := handler.marketplace.RequestRental(requestCtx, request)
	if err != nil {
		handler.respondError(ctx, "request_rental", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"rental": newRentalPayload(record)})
}

func (handler *httpHandler) handleListRentals(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()
	records, err := handler.marketplace.ListRentals(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "list_rentals", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rentals": newRentalPayloads(records)})
}

func (handler *httpHandler) handleRentalStatus(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var payload statusRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		handler.reject(ctx, userID, marketplace.ActionRentalUpdate, "invalid_json", malformed(err))
		return
	}
	next, err := rental.ParseStatus(payload.Status)
	if err != nil {
		handler.marketplace.Reject(userID, marketplace.ActionRentalUpdate, err)
		handler.respondError(ctx, "update_rental_status", err)
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.timeout)
	defer cancel()
	record, err := handler.marketplace.UpdateRentalStatus(requestCtx, userID, ctx.Param("id"), next)
	if err != nil {
		handler.respondError(ctx, "update_rental_status", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rental": newRentalPayload(record)})
}

func (handler *httpHandler) handleListNotifications(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"notifications": handler.marketplace.ListNotifications(userID)})
}

func (handler *httpHandler) handleRemoveNotification(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	handler.marketplace.RemoveNotification(userID, ctx.Param("id"))
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleClearNotifications(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	handler.marketplace.ClearNotifications(userID)
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) sessionUser(ctx *gin.Context) (ledger.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing user id"))
		return ledger.UserID{}, false
	}
	return userID, true
}

// reject notifies the user about a request refused by the adapter and answers 400.
func (handler *httpHandler) reject(ctx *gin.Context, userID ledger.UserID, action marketplace.Action, code string, err error) {
	handler.marketplace.Reject(userID, action, err)
	ctx.JSON(http.StatusBadRequest, errorResponse(code, marketplace.UserMessage(err)))
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, marketplace.UserMessage(err)))
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", marketplace.ErrMalformedRequest, err)
}

func parseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := time.Parse(dateLayout, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD or RFC3339", marketplace.ErrMalformedRequest)
	}
	return parsed.UTC(), nil
}
