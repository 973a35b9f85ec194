package v1

import (
	"boardsync-backend/internal/handlers"
	"boardsync-backend/internal/repo"

	"github.com/gofiber/fiber/v2"
)

func registerBoard(r fiber.Router, boardRepo repo.BoardRepoInterface, deps Deps) {
	// Initialize handler
	boardHandler := handlers.NewBoardHandler(boardRepo, deps.Archiver)

	// Register routes
	r.Get("/boards", boardHandler.GetAllBoards)
	r.Post("/boards", boardHandler.CreateBoard)
	r.Post("/boards/import", boardHandler.ImportBoard)
	r.Get("/boards/:boardId", boardHandler.GetBoardByID)
	r.Get("/boards/:boardId/history", boardHandler.GetHistory)
	r.Post("/boards/:boardId/validate", boardHandler.ValidateHistory)
	r.Post("/boards/:boardId/archive", boardHandler.ArchiveBoard)
}
