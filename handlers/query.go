// handlers/query.go
package handlers

import (
	"async-tournament-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupQueryRoutes wires the public read-only JSON API under /s/.
func SetupQueryRoutes(app *fiber.App, queryService *services.QueryService) {
	public := app.Group("/s")

	public.Get("/tournaments", queryService.ListTournaments)
	public.Get("/tournaments/:id", queryService.GetTournament)
	public.Get("/tournaments/:id/pools", queryService.ListPools)
	public.Get("/tournaments/:id/permalinks/:permalink_id", queryService.GetPermalink)
	public.Get("/tournaments/:id/races", queryService.ListRaces)
	public.Get("/tournaments/:id/leaderboard", queryService.Leaderboard)
	public.Get("/tournaments/:id/audit", queryService.ListAudit)
	public.Get("/races/:id", queryService.GetRace)
}
