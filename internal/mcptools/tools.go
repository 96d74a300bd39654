// Package mcptools exposes the pipeline triggers as MCP tools so an assistant
// can poll, sync and run analyses over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/service"
)

const serverName = "zapinsight"

type tools struct {
	svc *service.Services
}

// NewServer builds the MCP server with every pipeline tool registered.
func NewServer(svc *service.Services, version string) *server.MCPServer {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	t := &tools{svc: svc}

	s.AddTool(mcp.NewTool("poll_chats",
		mcp.WithDescription("Poll the most recent gateway chats and ingest their new messages"),
		mcp.WithNumber("chat_limit", mcp.Description("How many chats to poll")),
		mcp.WithNumber("message_limit", mcp.Description("How many messages per chat")),
	), t.pollChats)

	s.AddTool(mcp.NewTool("poll_contact",
		mcp.WithDescription("Poll the conversation of one stored contact"),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("Contact UUID")),
		mcp.WithNumber("limit", mcp.Description("How many messages to fetch")),
	), t.pollContact)

	s.AddTool(mcp.NewTool("fetch_history",
		mcp.WithDescription("Fetch the history of any individual WhatsApp address or phone number"),
		mcp.WithString("address", mcp.Required(), mcp.Description("Phone number or individual address")),
		mcp.WithNumber("limit", mcp.Description("How many messages to fetch")),
	), t.fetchHistory)

	s.AddTool(mcp.NewTool("full_sync",
		mcp.WithDescription("Import the gateway contact book and/or backfill stored contacts' messages"),
		mcp.WithBoolean("contacts", mcp.Description("Import contacts")),
		mcp.WithBoolean("messages", mcp.Description("Backfill messages")),
		mcp.WithNumber("max_contacts", mcp.Description("Stop after this many contacts, 0 for all")),
	), t.fullSync)

	s.AddTool(mcp.NewTool("enqueue_contact",
		mcp.WithDescription("Ask for a commercial analysis of a contact"),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("Contact UUID")),
		mcp.WithNumber("priority", mcp.Description("Queue rank, lower runs first")),
	), t.enqueue)

	s.AddTool(mcp.NewTool("run_analysis",
		mcp.WithDescription("Analyze one bounded batch of queued contacts with the language model"),
		mcp.WithNumber("batch_size", mcp.Description("Maximum items to analyze")),
	), t.runAnalysis)

	s.AddTool(mcp.NewTool("queue_stats",
		mcp.WithDescription("Count analysis queue items by status"),
	), t.queueStats)

	s.AddTool(mcp.NewTool("list_queue",
		mcp.WithDescription("List analysis queue items"),
		mcp.WithString("status", mcp.Description("pendente, processando, concluido or erro"),
			mcp.Enum(domain.QueueStatusPending, domain.QueueStatusProcessing, domain.QueueStatusDone, domain.QueueStatusError)),
		mcp.WithNumber("limit", mcp.Description("Maximum items")),
	), t.listQueue)

	s.AddTool(mcp.NewTool("requeue_item",
		mcp.WithDescription("Queue the contact of a failed item again"),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("Queue item UUID")),
	), t.requeue)

	s.AddTool(mcp.NewTool("get_insight",
		mcp.WithDescription("Read the latest commercial insight of a contact"),
		mcp.WithString("contact_id", mcp.Required(), mcp.Description("Contact UUID")),
	), t.getInsight)

	s.AddTool(mcp.NewTool("preview_priority",
		mcp.WithDescription("Show the priority bucket a conversion probability maps to"),
		mcp.WithNumber("probability", mcp.Required(), mcp.Description("Conversion probability 0-100")),
	), t.previewPriority)

	s.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent ingestion runs"),
		mcp.WithNumber("limit", mcp.Description("Maximum runs")),
	), t.listRuns)

	return s
}

// Serve runs the MCP server over stdin/stdout until the client disconnects.
func Serve(svc *service.Services, version string) error {
	log.Printf("[MCP] Serving %s tools over stdio", serverName)
	return server.ServeStdio(NewServer(svc, version))
}

func result(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// failure reports err to the model as a tool error rather than a protocol error.
func failure(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func requireUUID(req mcp.CallToolRequest, key string) (uuid.UUID, error) {
	raw, err := req.RequireString(key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a valid UUID", key)
	}
	return id, nil
}

func (t *tools) pollChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := t.svc.Ingest.PollChats(ctx,
		req.GetInt("chat_limit", t.svc.Options.PollChatLimit),
		req.GetInt("message_limit", t.svc.Options.PollMessageLimit))
	if err != nil {
		return failure(err)
	}
	return result(run)
}

func (t *tools) pollContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireUUID(req, "contact_id")
	if err != nil {
		return failure(err)
	}
	run, err := t.svc.Ingest.PollContact(ctx, id, req.GetInt("limit", t.svc.Options.PollMessageLimit))
	if err != nil {
		return failure(err)
	}
	return result(run)
}

func (t *tools) fetchHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, err := req.RequireString("address")
	if err != nil {
		return failure(err)
	}
	run, err := t.svc.Ingest.FetchHistory(ctx, address, req.GetInt("limit", t.svc.Options.PollMessageLimit))
	if err != nil {
		return failure(err)
	}
	return result(run)
}

func (t *tools) fullSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := t.svc.Ingest.FullSync(ctx, service.SyncOptions{
		Contacts:    req.GetBool("contacts", false),
		Messages:    req.GetBool("messages", false),
		MaxContacts: req.GetInt("max_contacts", 0),
	})
	if err != nil {
		return failure(err)
	}
	return result(run)
}

func (t *tools) enqueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireUUID(req, "contact_id")
	if err != nil {
		return failure(err)
	}
	item, created, err := t.svc.Queue.Enqueue(ctx, id, req.GetInt("priority", domain.QueuePriorityManual), domain.QueueReasonManual)
	if err != nil {
		return failure(err)
	}
	return result(map[string]interface{}{"item": item, "created": created})
}

func (t *tools) runAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := t.svc.Worker.RunBatch(ctx, req.GetInt("batch_size", t.svc.Options.AnalysisBatchSize))
	if err != nil {
		return failure(err)
	}
	return result(summary)
}

func (t *tools) queueStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.svc.Queue.Stats(ctx)
	if err != nil {
		return failure(err)
	}
	return result(stats)
}

func (t *tools) listQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := req.GetString("status", "")
	if status != "" && !domain.IsQueueStatus(status) {
		return failure(fmt.Errorf("unknown status %q", status))
	}
	items, err := t.svc.Queue.List(ctx, status, req.GetInt("limit", 50))
	if err != nil {
		return failure(err)
	}
	return result(items)
}

func (t *tools) requeue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireUUID(req, "item_id")
	if err != nil {
		return failure(err)
	}
	item, err := t.svc.Queue.Requeue(ctx, id)
	if err != nil {
		return failure(err)
	}
	return result(item)
}

func (t *tools) getInsight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireUUID(req, "contact_id")
	if err != nil {
		return failure(err)
	}
	insight, err := t.svc.Insight.Get(ctx, id)
	if err != nil {
		return failure(err)
	}
	if insight == nil {
		return failure(errors.New("contact has not been analyzed yet"))
	}
	return result(insight)
}

func (t *tools) previewPriority(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireInt("probability")
	if err != nil {
		return failure(err)
	}
	return result(service.PreviewPriority(p))
}

func (t *tools) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := t.svc.Ingest.ListRuns(ctx, req.GetInt("limit", 20))
	if err != nil {
		return failure(err)
	}
	return result(runs)
}
