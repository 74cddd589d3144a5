package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	campaignworker "github.com/acme/voiceagent/internal/worker/campaign"
)

func (h *HandlerSet) workerStatus(ctx *fiber.Ctx) error {
	w := campaignworker.Global()
	running := w != nil && w.Running()
	return ctx.JSON(fiber.Map{"running": running})
}

func (h *HandlerSet) startWorker(ctx *fiber.Ctx) error {
	campaignworker.StartGlobal(h.container.Worker())
	return ctx.JSON(fiber.Map{"running": true})
}

func (h *HandlerSet) stopWorker(ctx *fiber.Ctx) error {
	stopCtx, cancel := context.WithTimeout(ctx.Context(), 10*time.Second)
	defer cancel()
	if err := campaignworker.StopGlobal(stopCtx); err != nil {
		return translateError(err)
	}
	return ctx.JSON(fiber.Map{"running": false})
}
