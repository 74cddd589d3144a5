package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (h *HandlerSet) listBreakers(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"breakers": h.container.Telephony().Snapshots()})
}

func (h *HandlerSet) resetBreaker(ctx *fiber.Ctx) error {
	name := ctx.Params("name")
	if !h.container.Telephony().Reset(name) {
		return fiber.NewError(http.StatusNotFound, "unknown breaker")
	}
	h.container.Logger.Info("breaker reset via API", zap.String("provider", name))
	return ctx.JSON(fiber.Map{"reset": name})
}
