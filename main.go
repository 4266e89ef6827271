package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"async-tournament-system/handlers"
	"async-tournament-system/models"
	"async-tournament-system/notify"
	"async-tournament-system/services"
	"async-tournament-system/storage"
	"async-tournament-system/utils"
	"async-tournament-system/workers"

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

	app := fiber.New(fiber.Config{})

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(allowedOriginsList, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Tournament{},
		&models.PermalinkPool{},
		&models.Permalink{},
		&models.Permission{},
		&models.WhitelistEntry{},
		&models.User{},
		&models.Race{},
		&models.LiveRace{},
		&models.AuditLog{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if os.Getenv("CLOUDFLARE_ACCOUNT_ID") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
	} else {
		log.Println("⚠️  R2 not configured, CSV exports disabled")
	}

	var sink notify.Sink = notify.Noop{}
	if gatewayURL := os.Getenv("GATEWAY_URL"); gatewayURL != "" {
		sink = notify.NewGatewaySink(gatewayURL, os.Getenv("GATEWAY_TOKEN"))
	} else {
		log.Println("⚠️  GATEWAY_URL not set, outbound Discord messages disabled")
	}

	seedServiceURL := os.Getenv("SEED_SERVICE_URL")
	if seedServiceURL == "" {
		log.Fatal("SEED_SERVICE_URL environment variable not set")
	}
	seedClient := services.NewSeedClient(seedServiceURL, os.Getenv("SEED_SERVICE_TOKEN"))

	racetimeURL := os.Getenv("RACETIME_BASE_URL")
	if racetimeURL == "" {
		racetimeURL = "https://racetime.gg"
	}
	racetimeClient := services.NewRacetimeClient(racetimeURL)

	store := storage.NewGormStore(db)

	raceService := services.NewRaceService(store, sink)
	reviewService := services.NewReviewService(store, raceService)
	liveRaceService := services.NewLiveRaceService(store, racetimeClient, sink, raceService)
	scoringService := services.NewScoringService(store)
	scoringService.OnlyApproved = os.Getenv("SCORE_ONLY_APPROVED") == "true"
	tournamentService := services.NewTournamentService(store, seedClient, scoringService)
	queryService := services.NewQueryService(db, scoringService)
	commandService := services.NewCommandService(raceService, liveRaceService, reviewService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := workers.NewTimeoutSweeper(store, sink)
	go sweeper.Run(ctx, time.Minute)

	scoringService.StartScoringScheduler(time.Hour)

	handlers.SetupCommandRoutes(app, commandService)
	handlers.SetupTournamentRoutes(app, tournamentService)
	handlers.SetupQueryRoutes(app, queryService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Timeout sweeper running (every 1m)")
	log.Println("✅ Scoring scheduler running (every 1h)")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
