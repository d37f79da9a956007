package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vendahub/settlement/docs"
	"github.com/vendahub/settlement/internal/database"
	"github.com/vendahub/settlement/internal/handlers"
	mW "github.com/vendahub/settlement/internal/middleware"
	"github.com/vendahub/settlement/internal/models"
	"github.com/vendahub/settlement/internal/services"
)

// @title Marketplace Settlement API
// @version 1.0
// @description Settlement and ledger engine for a multi-seller marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("release.interval", "RELEASE_INTERVAL")
	viper.BindEnv("release.batch_size", "RELEASE_BATCH_SIZE")
	viper.BindEnv("webhooks.replay_interval", "WEBHOOK_REPLAY_INTERVAL")
	viper.BindEnv("gateways.mercadopago.webhook_secret", "MERCADOPAGO_WEBHOOK_SECRET")
	viper.BindEnv("gateways.asaas.webhook_secret", "ASAAS_WEBHOOK_SECRET")
	viper.BindEnv("gateways.pagarme.webhook_secret", "PAGARME_WEBHOOK_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Swagger docs
	docs.SwaggerInfo.Title = "Marketplace Settlement API"
	docs.SwaggerInfo.Description = "Settlement and ledger engine for a multi-seller marketplace"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// The platform-default fee plan: the single explicit fallback for sellers
	// without an assigned plan.
	defaultPlan := loadDefaultFeePlan()

	ledgerService := services.NewLedgerService(db)
	feeCalculator := services.NewFeeCalculator(defaultPlan)
	settlementService := services.NewSettlementService(db, feeCalculator, ledgerService, services.LogNotifier{})
	normalizer := services.NewNormalizer()
	resolver := services.NewOrderResolver(db)
	orderService := services.NewOrderService(db, resolver)
	withdrawalService := services.NewWithdrawalService(db, ledgerService)
	releaseService := services.NewReleaseService(db, ledgerService,
		viper.GetDuration("release.interval"), viper.GetInt("release.batch_size"))

	webhookHandler := handlers.NewWebhookHandler(db, redisClient, normalizer, resolver, settlementService, gatewaySecrets())
	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService)
	orderHandler := handlers.NewOrderHandler(orderService, ledgerService)

	// Background loops: release sweep and webhook replay.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go releaseService.Run(ctx)
	go webhookHandler.RunReplay(ctx, viper.GetDuration("webhooks.replay_interval"))

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Gateways authenticate with HMAC signatures, not bearer tokens.
		r.Post("/webhooks/{gateway}", webhookHandler.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/orders", orderHandler.CreateOrder)
			r.Get("/orders/{orderId}", orderHandler.GetOrder)
			r.Post("/orders/{orderId}/cancel", orderHandler.CancelOrder)

			r.Get("/balance", withdrawalHandler.GetBalance)
			r.Get("/withdrawals", withdrawalHandler.ListWithdrawals)
			r.Post("/withdrawals", withdrawalHandler.RequestWithdrawal)
		})

		// Status report-backs come from the approval workflow and the payout
		// executor, never from owner tokens.
		r.Group(func(r chi.Router) {
			r.Use(mW.BackofficeMiddleware)

			r.Put("/withdrawals/{id}/status", withdrawalHandler.UpdateWithdrawalStatus)
		})
	})

	// Start server with graceful shutdown
	port := viper.GetString("server.port")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// loadDefaultFeePlan builds the versioned platform-default fee plan from
// config. The defaults mirror the published marketplace fee table.
func loadDefaultFeePlan() *models.FeePlan {
	viper.SetDefault("fees.default_plan.version", 1)
	viper.SetDefault("fees.default_plan.pix.rate_percent", "4.99")
	viper.SetDefault("fees.default_plan.pix.fixed_fee", "0.39")
	viper.SetDefault("fees.default_plan.pix.holding_days", 3)
	viper.SetDefault("fees.default_plan.card.rate_percent", "6.99")
	viper.SetDefault("fees.default_plan.card.fixed_fee", "0.49")
	viper.SetDefault("fees.default_plan.card.holding_days", 15)
	viper.SetDefault("fees.default_plan.boleto.rate_percent", "3.49")
	viper.SetDefault("fees.default_plan.boleto.fixed_fee", "1.99")
	viper.SetDefault("fees.default_plan.boleto.holding_days", 2)

	plan := &models.FeePlan{
		ID:      "platform-default",
		Version: viper.GetInt("fees.default_plan.version"),
		Entries: map[models.PaymentMethod]models.FeePlanEntry{},
	}
	for key, method := range map[string]models.PaymentMethod{
		"pix":    models.MethodPIX,
		"card":   models.MethodCard,
		"boleto": models.MethodBoleto,
	} {
		rate, err := decimal.NewFromString(viper.GetString("fees.default_plan." + key + ".rate_percent"))
		if err != nil {
			log.Fatalf("Invalid default fee rate for %s: %v", key, err)
		}
		fixed, err := decimal.NewFromString(viper.GetString("fees.default_plan." + key + ".fixed_fee"))
		if err != nil {
			log.Fatalf("Invalid default fixed fee for %s: %v", key, err)
		}
		plan.Entries[method] = models.FeePlanEntry{
			Method:      method,
			RatePercent: rate,
			FixedFee:    fixed,
			HoldingDays: viper.GetInt("fees.default_plan." + key + ".holding_days"),
		}
	}
	return plan
}

func gatewaySecrets() map[string]string {
	return map[string]string{
		services.GatewayMercadoPago: viper.GetString("gateways.mercadopago.webhook_secret"),
		services.GatewayAsaas:       viper.GetString("gateways.asaas.webhook_secret"),
		services.GatewayPagarme:     viper.GetString("gateways.pagarme.webhook_secret"),
	}
}
