package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shopglobal/shipping-service/internal/application"
	"github.com/shopglobal/shipping-service/internal/config"
	"github.com/shopglobal/shipping-service/internal/infrastructure/carriers"
	"github.com/shopglobal/shipping-service/internal/infrastructure/mongodb"
	"github.com/shopglobal/shipping-service/internal/infrastructure/redisgate"
	"github.com/shopglobal/shipping-service/internal/jobs"
	"github.com/shopglobal/shipping-service/pkg/api"
	"github.com/shopglobal/shipping-service/pkg/logging"
	"github.com/shopglobal/shipping-service/pkg/metrics"
	"github.com/shopglobal/shipping-service/pkg/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&logging.Config{
		Level:       logging.LogLevel(cfg.LogLevel),
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     os.Getenv("VERSION"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting shipping-service API")

	ctx := context.Background()
	m := metrics.New(cfg.ServiceName)

	mongoClient, err := mongodb.NewClient(ctx, &mongodb.Config{
		URI:            cfg.MongoURI,
		Database:       cfg.MongoDatabase,
		ConnectTimeout: cfg.MongoConnectTimeout,
		MaxPoolSize:    cfg.MongoMaxPoolSize,
		MinPoolSize:    cfg.MongoMinPoolSize,
	})
	if err != nil {
		logger.Fatal("connect to MongoDB", zap.Error(err))
	}
	defer func() { _ = mongoClient.Close(ctx) }()
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect to Redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	db := mongoClient.Database()
	repo := mongodb.NewShipmentRepository(db)
	orderStore := mongodb.NewOrderStore(db)
	addressStore := mongodb.NewAddressStore(db)
	gate := redisgate.New(redisClient, cfg.WebhookReplayTTL, cfg.WebhookProcessingTTL)

	var registrar application.TrackingRegistrar
	if cfg.SeventeenTrackAPIKey != "" {
		registrar = carriers.NewRegisterClient(cfg.SeventeenTrackBaseURL, cfg.SeventeenTrackAPIKey, redisClient, logger)
	} else {
		logger.Warn("17TRACK API key not set, tracking registration disabled")
	}

	shipmentService := application.NewShipmentService(repo, orderStore, addressStore, registrar, logger, m)
	userService := application.NewUserService(repo, orderStore, logger)
	webhookService := application.NewWebhookService(shipmentService, repo, gate,
		cfg.SeventeenTrackAPIKey, logger, m)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	middleware.Setup(router, &middleware.Config{
		Logger:      logger,
		Metrics:     m,
		ServiceName: cfg.ServiceName,
	})

	router.GET("/health", middleware.HealthCheck(cfg.ServiceName))
	router.GET("/ready", middleware.ReadinessCheck(cfg.ServiceName, func() error {
		return mongoClient.HealthCheck(ctx)
	}))
	router.GET("/metrics", m.Handler())

	registerRoutes(router, shipmentService, userService, webhookService, logger)

	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	if cfg.CompensateEnabled {
		runner := jobs.NewCompensateRunner(shipmentService, cfg.CompensateInterval, cfg.CompensateBatchSize, logger)
		go runner.Run(jobCtx)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()
	logger.Info("server started", zap.Int("port", cfg.HTTPPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	stopJobs()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func registerRoutes(
	router *gin.Engine,
	shipments *application.ShipmentService,
	users *application.UserService,
	webhooks *application.WebhookService,
	logger *logging.Logger,
) {
	admin := router.Group("/api/v1/admin")
	{
		admin.POST("/shipments", manualCreateHandler(shipments, logger))
		admin.GET("/shipments", pageShipmentsHandler(shipments, logger))
		admin.GET("/shipments/:shipmentId", getShipmentHandler(shipments, logger))
		admin.POST("/shipments/:shipmentId/label", fillLabelHandler(shipments, logger))
		admin.POST("/shipments/:shipmentId/events", applyEventHandler(shipments, logger))
		admin.POST("/shipments/dispatch", dispatchHandler(shipments, logger))
		admin.GET("/shipments/tracking/:trackingNo", getByTrackingHandler(shipments, logger))
		admin.GET("/status-logs", pageStatusLogsHandler(shipments, logger))
		admin.GET("/orders/:orderId/address-change-forbidden", addressChangeGuardHandler(shipments, logger))
		admin.POST("/orders/:orderId/shipment", ensurePlaceholderHandler(shipments, logger))
		admin.POST("/compensate", compensateHandler(shipments, logger))
	}

	user := router.Group("/api/v1")
	{
		user.GET("/orders/:orderNo/shipments", listUserOrderShipmentsHandler(users, logger))
		user.GET("/shipments/:shipmentNo", getUserShipmentHandler(users, logger))
	}

	router.POST("/api/v1/webhooks/17track", seventeenTrackWebhookHandler(webhooks, logger))
}

// currentUserID reads the user identity injected by the API gateway.
func currentUserID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func manualCreateHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		var cmd application.ManualCreateCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			responder.RespondBadRequest(err.Error())
			return
		}

		shipment, err := service.ManualCreate(c.Request.Context(), cmd)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusCreated, shipment)
	}
}

func fillLabelHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		var cmd application.FillLabelCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			responder.RespondBadRequest(err.Error())
			return
		}
		cmd.ShipmentID = c.Param("shipmentId")

		result, err := service.FillLabel(c.Request.Context(), cmd)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func applyEventHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		var cmd application.ApplyEventCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			responder.RespondBadRequest(err.Error())
			return
		}
		cmd.ShipmentID = c.Param("shipmentId")

		log, replay, err := service.ApplyEvent(c.Request.Context(), cmd)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"log": log, "replay": replay})
	}
}

func dispatchHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		var cmd application.DispatchCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			responder.RespondBadRequest(err.Error())
			return
		}

		shipments, err := service.Dispatch(c.Request.Context(), cmd)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"shipments": shipments})
	}
}

func getShipmentHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		shipment, err := service.FindShipmentDetailByID(c.Request.Context(), c.Param("shipmentId"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, shipment)
	}
}

func getByTrackingHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		shipment, err := service.FindShipmentDetailByTrackingNo(c.Request.Context(), c.Param("trackingNo"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, shipment)
	}
}

func pageShipmentsHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		var query application.PageShipmentsQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			responder.RespondBadRequest(err.Error())
			return
		}

		page, err := service.PageShipments(c.Request.Context(), query,
			api.ParsePagination(c), api.ParseSort(c, "createdAt"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func pageStatusLogsHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		var query application.PageStatusLogsQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			responder.RespondBadRequest(err.Error())
			return
		}

		page, err := service.PageStatusLogs(c.Request.Context(), query, api.ParsePagination(c))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func addressChangeGuardHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		forbidden, err := service.ExistsAddressChangeForbiddenShipment(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"forbidden": forbidden})
	}
}

func ensurePlaceholderHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		var req struct {
			IdempotencyKey string `json:"idempotencyKey" binding:"required"`
			SourceRef      string `json:"sourceRef" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			responder.RespondBadRequest(err.Error())
			return
		}

		shipment, err := service.EnsurePlaceholderForPaidOrder(c.Request.Context(),
			c.Param("orderId"), req.IdempotencyKey, req.SourceRef)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusCreated, shipment)
	}
}

func compensateHandler(service *application.ShipmentService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		result, err := service.CompensatePaidOrdersWithoutShipment(c.Request.Context(), limit)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func listUserOrderShipmentsHandler(service *application.UserService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		userID, ok := currentUserID(c)
		if !ok {
			responder.RespondBadRequest("missing or invalid X-User-ID header")
			return
		}
		includeLogs := c.DefaultQuery("includeLogs", "false") == "true"

		shipments, err := service.ListUserOrderShipments(c.Request.Context(),
			userID, c.Param("orderNo"), includeLogs)
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"shipments": shipments})
	}
}

func getUserShipmentHandler(service *application.UserService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		userID, ok := currentUserID(c)
		if !ok {
			responder.RespondBadRequest("missing or invalid X-User-ID header")
			return
		}

		shipment, err := service.FindUserShipmentDetail(c.Request.Context(), userID, c.Param("shipmentNo"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, shipment)
	}
}

func seventeenTrackWebhookHandler(service *application.WebhookService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			responder.RespondBadRequest("unreadable body")
			return
		}

		if err := service.HandleSeventeenTrack(c.Request.Context(), body, c.GetHeader("sign")); err != nil {
			responder.RespondWithError(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok"})
	}
}
