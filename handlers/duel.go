// handlers/duel.go
package handlers

import (
	"errors"
	"time"

	"duel-bot/middleware"
	"duel-bot/models"
	"duel-bot/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupDuelRoutes wires the duel lifecycle commands. All routes sit behind
// the gateway player context; the caller identity comes from X-User-ID.
func SetupDuelRoutes(app *fiber.App, duelService *services.DuelService, registry *services.RegistryService) {
	secured := app.Group("/s", middleware.PlayerContextMiddleware())

	secured.Post("/duels", func(c *fiber.Ctx) error {
		type Req struct {
			Opponent    string     `json:"opponent"`
			ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.Opponent == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "opponent is required",
			})
		}

		callerID := c.Locals("player_id").(string)
		username, _ := c.Locals("player_name").(string)
		if _, err := registry.GetOrCreate(callerID, username); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to resolve caller",
				"cause": err.Error(),
			})
		}

		duel, err := duelService.CreateDuel(callerID, req.Opponent, req.ScheduledAt)
		if err != nil {
			return duelError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(duel)
	})

	secured.Post("/duels/accept", func(c *fiber.Ctx) error {
		callerID := c.Locals("player_id").(string)
		duel, err := duelService.Accept(callerID)
		if err != nil {
			return duelError(c, err)
		}
		return c.JSON(duel)
	})

	secured.Post("/duels/decline", func(c *fiber.Ctx) error {
		callerID := c.Locals("player_id").(string)
		if err := duelService.Decline(callerID); err != nil {
			return duelError(c, err)
		}
		return c.JSON(fiber.Map{"message": "duel declined"})
	})

	secured.Post("/duels/cancel", func(c *fiber.Ctx) error {
		callerID := c.Locals("player_id").(string)
		if err := duelService.Cancel(callerID); err != nil {
			return duelError(c, err)
		}
		return c.JSON(fiber.Map{"message": "duel cancelled"})
	})

	secured.Get("/duels/mine", func(c *fiber.Ctx) error {
		callerID := c.Locals("player_id").(string)
		var duel models.Duel
		err := duelService.DB.
			Where("challenger_id = ? OR challenged_id = ?", callerID, callerID).
			First(&duel).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "no duel for this player",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "DB error fetching duel",
				"cause": err.Error(),
			})
		}
		return c.JSON(duel)
	})
}

// duelError maps the lifecycle engine's named errors onto HTTP statuses.
func duelError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNoSuchPlayer):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrSelfChallengeNotAllowed),
		errors.Is(err, services.ErrMissingArtifactChannel),
		errors.Is(err, services.ErrInvalidScheduleTime):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrDuelAlreadyExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotTheChallengedParty):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNoPendingDuelForCaller),
		errors.Is(err, services.ErrNoDuelForCaller):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "duel operation failed",
			"cause": err.Error(),
		})
	}
}
