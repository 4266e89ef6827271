package handlers

import (
	"async-tournament-system/middleware"
	"async-tournament-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupTournamentRoutes wires the admin surface. Everything here mutates
// tournament state and sits behind the gateway token.
func SetupTournamentRoutes(app *fiber.App, tournamentService *services.TournamentService) {
	secured := app.Group("/tournaments", middleware.GatewayAuthMiddleware())

	secured.Post("/", tournamentService.CreateTournament)
	secured.Post("/:id/seeds", tournamentService.AddSeeds)
	secured.Post("/:id/close", tournamentService.CloseTournament)
	secured.Post("/:id/permissions", tournamentService.GrantPermission)
	secured.Post("/:id/whitelist", tournamentService.Whitelist)
	secured.Post("/:id/recalculate", tournamentService.Recalculate)
	secured.Post("/:id/export", tournamentService.ExportRaces)
}
