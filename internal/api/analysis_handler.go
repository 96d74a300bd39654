package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/service"
)

// --- Analysis queue ---

func (s *Server) handleEnqueue(c *fiber.Ctx) error {
	var req struct {
		ContactID string `json:"contact_id"`
		Priority  int    `json:"priority"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	contactID, err := uuid.Parse(req.ContactID)
	if err != nil {
		return badRequest(c, "Invalid contact ID")
	}
	if req.Priority <= 0 {
		req.Priority = domain.QueuePriorityManual
	}

	item, created, err := s.services.Queue.Enqueue(c.Context(), contactID, req.Priority, domain.QueueReasonManual)
	if err != nil {
		return fail(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"success": true, "item": item, "created": created})
}

func (s *Server) handleRunAnalysis(c *fiber.Ctx) error {
	req := struct {
		BatchSize int `json:"batch_size"`
	}{BatchSize: c.QueryInt("batch_size", s.services.Options.AnalysisBatchSize)}
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	summary, err := s.services.Worker.RunBatch(c.Context(), req.BatchSize)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error(), "summary": summary})
	}
	return c.JSON(fiber.Map{"success": true, "summary": summary})
}

func (s *Server) handleReleaseStale(c *fiber.Ctx) error {
	n, err := s.services.Queue.ReleaseStale(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "released": n})
}

func (s *Server) handleListQueue(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && !domain.IsQueueStatus(status) {
		return badRequest(c, "Invalid status")
	}

	items, err := s.services.Queue.List(c.Context(), status, c.QueryInt("limit", 100))
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []*domain.QueueItem{}
	}
	return c.JSON(fiber.Map{"success": true, "items": items})
}

func (s *Server) handleGetQueueItem(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid queue item ID")
	}

	item, err := s.services.Queue.Get(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	if item == nil {
		return fail(c, service.ErrQueueItemNotFound)
	}
	return c.JSON(fiber.Map{"success": true, "item": item})
}

func (s *Server) handleRequeue(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid queue item ID")
	}

	item, err := s.services.Queue.Requeue(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "item": item})
}

func (s *Server) handleQueueStats(c *fiber.Ctx) error {
	stats, err := s.services.Queue.Stats(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

func (s *Server) handlePriorityPreview(c *fiber.Ctx) error {
	if c.Query("probability") == "" {
		return badRequest(c, "probability is required")
	}
	return c.JSON(fiber.Map{"success": true, "preview": service.PreviewPriority(c.QueryInt("probability"))})
}
