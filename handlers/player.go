// handlers/player.go
package handlers

import (
	"errors"
	"strconv"

	"duel-bot/middleware"
	"duel-bot/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupPlayerRoutes wires the registry surface: channel/timezone
// registration, stats, leaderboard and the admin operations.
func SetupPlayerRoutes(app *fiber.App, registry *services.RegistryService, settlement *services.SettlementService) {
	secured := app.Group("/s", middleware.PlayerContextMiddleware())

	secured.Post("/players/join", func(c *fiber.Ctx) error {
		callerID := c.Locals("player_id").(string)
		username, _ := c.Locals("player_name").(string)
		player, err := registry.GetOrCreate(callerID, username)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "registration failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(player)
	})

	secured.Post("/players/channel", func(c *fiber.Ctx) error {
		type Req struct {
			Channel string `json:"channel"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		callerID := c.Locals("player_id").(string)
		username, _ := c.Locals("player_name").(string)
		player, err := registry.RegisterArtifactChannel(callerID, username, req.Channel)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "channel registration failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(player)
	})

	secured.Post("/players/timezone", func(c *fiber.Ctx) error {
		type Req struct {
			Timezone string `json:"timezone"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		callerID := c.Locals("player_id").(string)
		username, _ := c.Locals("player_name").(string)
		player, err := registry.RegisterTimezone(callerID, username, req.Timezone)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "timezone registration failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(player)
	})

	secured.Get("/players/me", func(c *fiber.Ctx) error {
		callerID := c.Locals("player_id").(string)
		player, err := registry.Get(callerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "player not registered yet",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "DB error fetching player",
				"cause": err.Error(),
			})
		}
		return c.JSON(player)
	})

	secured.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "10"))
		players, err := registry.Leaderboard(limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load leaderboard",
				"cause": err.Error(),
			})
		}
		return c.JSON(players)
	})

	secured.Get("/history", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		entries, err := settlement.History(limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load history",
				"cause": err.Error(),
			})
		}
		return c.JSON(entries)
	})

	// Admin endpoints
	admin := app.Group("/s/admin", middleware.PlayerContextMiddleware(), middleware.RequireAdmin())

	admin.Post("/players/:playerID/reset-score", func(c *fiber.Ctx) error {
		playerID := c.Params("playerID")
		err := registry.ResetScore(playerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "no such player",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "score reset failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"message": "score reset", "player_id": playerID})
	})

	admin.Get("/channels", func(c *fiber.Ctx) error {
		bindings, err := registry.ListChannels()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to list channels",
				"cause": err.Error(),
			})
		}
		return c.JSON(bindings)
	})

	admin.Delete("/channels/:channel", func(c *fiber.Ctx) error {
		channel := c.Params("channel")
		if err := registry.UnregisterChannel(channel); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "channel removal failed",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"message": "channel unregistered", "channel": channel})
	})
}
