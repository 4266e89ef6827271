// handlers/race.go
package handlers

import (
	"async-tournament-system/middleware"
	"async-tournament-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupCommandRoutes wires the endpoints the bot gateway calls when runners
// and moderators use commands in Discord.
func SetupCommandRoutes(app *fiber.App, commandService *services.CommandService) {
	secured := app.Group("/commands", middleware.GatewayAuthMiddleware())

	secured.Post("/channels/:channel_id/pools", commandService.ListPools)
	secured.Post("/races", commandService.NewRace)
	secured.Post("/races/:id/correct", commandService.CorrectRun)

	secured.Post("/threads/:thread_id/ready", commandService.Ready)
	secured.Post("/threads/:thread_id/done", commandService.Done)
	secured.Post("/threads/:thread_id/ff", commandService.Forfeit)
	secured.Get("/threads/:thread_id/timer", commandService.Timer)
	secured.Post("/threads/:thread_id/runinfo", commandService.RunInfo)
	secured.Post("/threads/:thread_id/extend", commandService.ExtendTimeout)
	secured.Post("/threads/:thread_id/reattempt", commandService.Reattempt)

	secured.Post("/live-races", commandService.OpenLiveRace)
	secured.Post("/live-races/:slug/join", commandService.JoinLiveRace)
	secured.Post("/live-races/:slug/record", commandService.RecordLiveRace)

	secured.Post("/channels/:channel_id/reviews", commandService.ReviewQueue)
	secured.Post("/reviews/:id/claim", commandService.ClaimReview)
	secured.Post("/reviews/:id/submit", commandService.SubmitReview)
}
