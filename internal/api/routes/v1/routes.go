package v1

import (
	"boardsync-backend/internal/libraries"
	"boardsync-backend/internal/repo"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Deps are the shared services the v1 routes are built from.
type Deps struct {
	DB  *gorm.DB
	Hub *libraries.Hub
	// Archiver is nil when no bucket is configured.
	Archiver libraries.Archiver
}

func RegisterRoutes(r fiber.Router, deps Deps) {
	boardRepo := repo.NewBoardRepository(deps.DB)

	registerHealth(r, deps)
	registerBoard(r, boardRepo, deps)
	registerSync(r, deps)
}
