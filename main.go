package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/yourusername/rentledger/billing"
	"github.com/yourusername/rentledger/config"
	"github.com/yourusername/rentledger/handlers"
	"github.com/yourusername/rentledger/middleware"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/settlement"
	"github.com/yourusername/rentledger/subscription"
	"github.com/yourusername/rentledger/utils"
	"github.com/yourusername/rentledger/visits"
	"gorm.io/gorm"
)

func main() {
	utils.InitLogger("rentledger")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.Logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		utils.Logger.Fatalf("Failed to connect to database: %v", err)
	}

	ledger := subscription.NewLedger(db, cfg.QuoteTTL, nil)
	gateway := utils.NewMayaClient(cfg.MayaBaseURL, cfg.MayaPublicKey, cfg.MayaSecretKey, cfg.GatewayTimeout)
	stellarClient := utils.NewStellarClient(cfg.HorizonURL, cfg.NetworkPassphrase, cfg.ReceivingAccount,
		utils.StellarAsset{Code: cfg.StellarAssetCode, Issuer: cfg.StellarAssetIssuer})

	scheduler, err := scheduleExpiry(cfg.ExpiryCron, ledger)
	if err != nil {
		utils.Logger.Fatalf("Invalid EXPIRY_CRON %q: %v", cfg.ExpiryCron, err)
	}
	scheduler.Start()

	router := setupRouter(cfg, db, ledger, gateway, stellarClient)

	utils.Logger.Infof("Starting rentledger API server on port %s", cfg.Port)
	stopScheduler := func() { <-scheduler.Stop().Done() }
	if err := serve(router, ":"+cfg.Port, stopScheduler); err != nil {
		utils.Logger.Fatalf("Failed to start server: %v", err)
	}
}

// serve blocks in the HTTP server. When it returns, stop runs before the
// error is handed back, since a fatal log exits without running defers.
func serve(router *gin.Engine, addr string, stop func()) error {
	err := router.Run(addr)
	stop()
	return err
}

// scheduleExpiry runs the lapsed-subscription sweep on a cron schedule.
func scheduleExpiry(schedule string, ledger *subscription.Ledger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := ledger.ExpireLapsed(context.Background())
		if err != nil {
			utils.Logger.WithError(err).Error("Subscription expiry sweep failed")
			return
		}
		utils.Logger.WithField("expired", n).Info("Subscription expiry sweep finished")
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func setupRouter(cfg *config.Config, db *gorm.DB, ledger *subscription.Ledger,
	gateway utils.PaymentGateway, stellarClient utils.StellarClientInterface) *gin.Engine {
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+handlers.WebhookSecretHeader)
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "rentledger-api",
		})
	})

	rates := billing.NewRateTable(db)
	billingHandler := handlers.NewBillingHandler(billing.NewService(db, rates, nil), rates)
	subscriptionHandler := handlers.NewSubscriptionHandler(ledger, gateway, cfg.RedirectBase)
	paymentHandler := handlers.NewPaymentHandler(settlement.NewService(db, nil), ledger, gateway,
		stellarClient, cfg.WebhookSecret, cfg.RedirectBase)
	visitHandler := handlers.NewVisitHandler(visits.NewWorkflow(db, nil), nil)
	authHandler := handlers.NewAuthHandler(db, cfg)

	api := router.Group("/api/v1")
	api.POST("/auth/refresh", authHandler.Refresh)
	// Authenticated by the shared webhook secret, not a bearer token.
	api.POST("/payments/webhook", paymentHandler.Webhook)

	landlord := middleware.RequireRole(models.RoleLandlord, models.RoleAdmin)
	tenant := middleware.RequireRole(models.RoleTenant)

	authed := api.Group("", middleware.JwtAuthMiddleware(cfg))
	{
		// Billing
		authed.POST("/rates", landlord, billingHandler.PostRate)
		authed.POST("/units/:id/periods", landlord, billingHandler.OpenPeriod)
		authed.POST("/units/:id/bills", landlord, billingHandler.ComputeBill)
		authed.GET("/units/:id/bills", billingHandler.ListBills)
		authed.GET("/bills/:id", billingHandler.GetBill)
		authed.PATCH("/bills/:id", landlord, billingHandler.UpdateAdjustments)
		authed.POST("/bills/:id/finalize", landlord, billingHandler.Finalize)

		// Subscriptions
		subs := authed.Group("/subscriptions", landlord)
		subs.GET("/plans", subscriptionHandler.Plans)
		subs.POST("/quote", subscriptionHandler.Quote)
		subs.POST("/commit", subscriptionHandler.Commit)
		subs.POST("/checkout", subscriptionHandler.Checkout)
		subs.GET("/active", subscriptionHandler.Active)
		subs.GET("/history", subscriptionHandler.History)
		subs.GET("/listing-limit", subscriptionHandler.ListingLimit)

		// Lease payments
		authed.POST("/leases/:id/obligations", landlord, paymentHandler.CreateObligations)
		authed.GET("/leases/:id/obligations", paymentHandler.ListObligations)
		authed.POST("/leases/:id/obligations/:kind/proof", tenant, paymentHandler.SubmitProof)
		authed.POST("/leases/:id/obligations/:kind/confirm", landlord, paymentHandler.Confirm)
		authed.POST("/leases/:id/obligations/:kind/reject", landlord, paymentHandler.Reject)
		authed.POST("/leases/:id/obligations/:kind/stellar", tenant, paymentHandler.StellarSettle)
		authed.POST("/leases/:id/obligations/:kind/stellar/envelope", tenant, paymentHandler.StellarEnvelope)
		authed.POST("/leases/:id/checkout", tenant, paymentHandler.Checkout)

		// Visits
		authed.POST("/visits", tenant, visitHandler.Request)
		authed.POST("/visits/:id/:action", landlord, visitHandler.Act)
		authed.GET("/units/:id/visits", visitHandler.List)
		authed.GET("/units/:id/booked-dates", visitHandler.BookedDates)
	}

	return router
}
