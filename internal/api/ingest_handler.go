package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/service"
)

// --- Ingestion ---

func (s *Server) handlePollChats(c *fiber.Ctx) error {
	req := struct {
		ChatLimit    int `json:"chat_limit"`
		MessageLimit int `json:"message_limit"`
	}{
		ChatLimit:    c.QueryInt("chat_limit", s.services.Options.PollChatLimit),
		MessageLimit: c.QueryInt("message_limit", s.services.Options.PollMessageLimit),
	}
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	run, err := s.services.Ingest.PollChats(c.Context(), req.ChatLimit, req.MessageLimit)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error(), "run": run})
	}
	return c.JSON(fiber.Map{"success": true, "run": run})
}

func (s *Server) handleFetchHistory(c *fiber.Ctx) error {
	var req struct {
		Address string `json:"address"`
		Limit   int    `json:"limit"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Address == "" {
		return badRequest(c, "address is required")
	}
	if req.Limit <= 0 {
		req.Limit = s.services.Options.PollMessageLimit
	}

	run, err := s.services.Ingest.FetchHistory(c.Context(), req.Address, req.Limit)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error(), "run": run})
	}
	return c.JSON(fiber.Map{"success": true, "run": run})
}

// handleStartSync starts a full sync in the background; the returned run id
// can be followed on /api/runs/:id.
func (s *Server) handleStartSync(c *fiber.Ctx) error {
	var opts service.SyncOptions
	if err := parseBody(c, &opts); err != nil {
		return badRequest(c, "Invalid request body")
	}

	run := s.services.Ingest.StartFullSync(s.ctx, opts)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "run": run})
}

func (s *Server) handleListRuns(c *fiber.Ctx) error {
	runs, err := s.services.Ingest.ListRuns(c.Context(), c.QueryInt("limit", 20))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "runs": runs})
}

func (s *Server) handleGetRun(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid run ID")
	}

	run, err := s.services.Ingest.GetRun(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	if run == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Run not found"})
	}
	return c.JSON(fiber.Map{"success": true, "run": run})
}

// --- Contacts ---

func (s *Server) handleGetContact(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid contact ID")
	}

	contact, err := s.services.Resolver.GetContact(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "contact": contact})
}

func (s *Server) handlePollContact(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid contact ID")
	}

	run, err := s.services.Ingest.PollContact(c.Context(), id, c.QueryInt("limit", s.services.Options.PollMessageLimit))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error(), "run": run})
	}
	return c.JSON(fiber.Map{"success": true, "run": run})
}

func (s *Server) handleEnrichContact(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid contact ID")
	}

	contact, err := s.services.Resolver.EnrichByID(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "contact": contact})
}

func (s *Server) handleGetInsight(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid contact ID")
	}

	insight, err := s.services.Insight.Get(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	if insight == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "Contact has not been analyzed yet"})
	}
	return c.JSON(fiber.Map{"success": true, "insight": insight})
}
