package v1

import (
	"boardsync-backend/internal/libraries"

	"github.com/gofiber/fiber/v2"
)

// registerSync mounts the board websocket. The hub is started by the caller.
func registerSync(r fiber.Router, deps Deps) {
	r.Get("/ws", libraries.WebSocketHandler(deps.Hub))
}
