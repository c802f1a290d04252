package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"duel-bot/handlers"
	"duel-bot/middleware"
	"duel-bot/models"
	"duel-bot/services"
	"duel-bot/utils"
	"duel-bot/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // command API only, artifacts never pass through here
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Player{},
		&models.Duel{},
		&models.DuelArrival{},
		&models.DuelHistory{},
		&models.ChannelBinding{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	scheduler, err := services.NewDuelScheduler()
	if err != nil {
		log.Fatal("failed to create scheduler:", err)
	}

	bus := services.NewEventBus()
	registry := services.NewRegistryService(db)
	duelConfig := services.LoadDuelConfig()
	duelService := services.NewDuelService(db, registry, scheduler, bus, duelConfig)
	settlement := services.NewSettlementService(db, duelService, bus, duelConfig.SizeLimit)

	// Re-arm timers for duels that survived a restart, then keep sweeping
	// so a missed firing is recovered within a minute.
	duelService.RecoverTimers()
	scheduler.Every(time.Minute, "timer-recovery-sweep", duelService.RecoverTimers)
	scheduler.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	intakeClient := workers.NewIntakeClient(settlement)
	go workers.PollArrivals(ctx, intakeClient, 5*time.Second)

	profileClient := workers.NewProfileSyncClient(registry)
	go workers.PollProfiles(ctx, profileClient, 60*time.Second)

	// ✅ Setup routes — now with enforced Gateway auth + consistent /s/ prefix
	handlers.SetupDuelRoutes(app, duelService, registry)
	handlers.SetupPlayerRoutes(app, registry, settlement)
	handlers.SetupEventRoutes(app, bus)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Artifact intake polling running (every 5s)")
	log.Println("✅ Profile sync polling running (every 60s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := scheduler.Shutdown(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
}
