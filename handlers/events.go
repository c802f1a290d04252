// handlers/events.go
package handlers

import (
	"bufio"
	"encoding/json"
	"log"
	"time"

	"duel-bot/services"

	"github.com/gofiber/fiber/v2"
)

// SetupEventRoutes exposes the engine's event feed. The chat relay holds
// one SSE connection open and turns each event into a chat announcement.
func SetupEventRoutes(app *fiber.App, bus *services.EventBus) {
	app.Get("/events/stream", func(c *fiber.Ctx) error {
		// SSE headers
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		events, cancel := bus.Subscribe()

		// Use fasthttp stream writer (THIS replaces Flush)
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()

			keepalive := time.NewTicker(15 * time.Second)
			defer keepalive.Stop()

			// Initial keepalive (comment event)
			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					payload, err := json.Marshal(ev)
					if err != nil {
						log.Printf("[EVENTS] marshal failed for %s: %v", ev.Type, err)
						continue
					}
					w.WriteString("event: " + string(ev.Type) + "\n")
					w.WriteString("data: " + string(payload) + "\n\n")
					if err := w.Flush(); err != nil {
						// client went away
						return
					}
				case <-keepalive.C:
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				}
			}
		})
		return nil
	})
}
