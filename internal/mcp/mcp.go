// Package mcp implements the Model Context Protocol surface for Gogi.
//
// Two tools are exposed over stdio: deliberate, which runs a full
// multi-participant deliberation, and query_decisions, which reads the
// decision graph. Resources publish recent decisions and graph statistics.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/ctxutil"
	"github.com/ashita-ai/gogi/internal/engine"
	"github.com/ashita-ai/gogi/internal/graph"
	"github.com/ashita-ai/gogi/internal/model"
)

// Server wraps the MCP server with the deliberation engine and the
// decision graph. graph may be nil when the graph is disabled; the query
// tool then reports that instead of failing the transport.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	graph     *graph.Service
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates and configures the MCP server with all tools and resources.
func New(eng *engine.Engine, graphSvc *graph.Service, cfg *config.Config, version string, logger *slog.Logger) *Server {
	s := &Server{
		engine: eng,
		graph:  graphSvc,
		cfg:    cfg,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"gogi",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	s.registerResources()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// deliberate — run a multi-model deliberation.
	s.mcpServer.AddTool(
		mcplib.NewTool("deliberate",
			mcplib.WithDescription("Run a structured multi-model deliberation on a question and return the full result including summary, votes, and convergence analysis"),
			mcplib.WithString("question", mcplib.Description("The question to deliberate"), mcplib.Required()),
			mcplib.WithString("participants", mcplib.Description(`JSON array of participants, e.g. [{"cli":"claude","model":"sonnet"},{"cli":"ollama","model":"llama3"}]`), mcplib.Required()),
			mcplib.WithNumber("rounds", mcplib.Description("Number of debate rounds (default from config)")),
			mcplib.WithString("mode", mcplib.Description("quick (single round) or conference (multi-round)")),
			mcplib.WithString("context", mcplib.Description("Extra context injected into round 1")),
			mcplib.WithString("working_directory", mcplib.Description("Project directory participants may inspect"), mcplib.Required()),
		),
		s.handleDeliberate,
	)

	// query_decisions — read the decision graph.
	s.mcpServer.AddTool(
		mcplib.NewTool("query_decisions",
			mcplib.WithDescription("Query the decision graph: search past deliberations by text, fetch one decision with stances and edges, or list contradicting decision pairs. Exactly one of query_text, decision_id, find_contradictions must be set."),
			mcplib.WithString("query_text", mcplib.Description("Free-text search over past deliberation questions")),
			mcplib.WithString("decision_id", mcplib.Description("Fetch one decision by id, with stances and similarity edges")),
			mcplib.WithBoolean("find_contradictions", mcplib.Description("List pairs of similar decisions with differing outcomes")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results (default 10)")),
			mcplib.WithString("format", mcplib.Description("summary, detailed, json, or table (default summary)")),
		),
		s.handleQueryDecisions,
	)
}

// ── deliberate ─────────────────────────────────────────────────────────────────

func (s *Server) handleDeliberate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	rawParticipants := request.GetString("participants", "")
	var participants []model.Participant
	if err := json.Unmarshal([]byte(rawParticipants), &participants); err != nil {
		return errorResult(fmt.Sprintf("participants must be a JSON array of {cli, model}: %v", err)), nil
	}

	req := model.DeliberateRequest{
		Question:         request.GetString("question", ""),
		Participants:     participants,
		Rounds:           request.GetInt("rounds", 0),
		Mode:             model.Mode(request.GetString("mode", "")),
		Context:          request.GetString("context", ""),
		WorkingDirectory: request.GetString("working_directory", ""),
	}

	// Mint the correlation id here so transport logs and engine logs share it.
	delibID := uuid.New()
	ctx = ctxutil.WithDeliberationID(ctx, delibID)
	s.logger.Info("deliberate tool called", "deliberation_id", delibID,
		"participants", len(participants))

	result, err := s.engine.Execute(ctx, req)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			return errorResult(verr.Error()), nil
		}
		s.logger.Error("deliberation failed", "deliberation_id", delibID, "error", err)
		return errorResult(fmt.Sprintf("deliberation failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// ── query_decisions ────────────────────────────────────────────────────────────

func (s *Server) handleQueryDecisions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.graph == nil {
		return errorResult("the decision graph is disabled in configuration"), nil
	}

	queryText := request.GetString("query_text", "")
	decisionID := request.GetString("decision_id", "")
	findContradictions := request.GetBool("find_contradictions", false)

	set := 0
	for _, on := range []bool{queryText != "", decisionID != "", findContradictions} {
		if on {
			set++
		}
	}
	if set != 1 {
		return errorResult("exactly one of query_text, decision_id, find_contradictions must be set"), nil
	}

	limit := request.GetInt("limit", 10)
	format, err := parseFormat(request.GetString("format", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	switch {
	case queryText != "":
		return s.queryByText(ctx, queryText, limit, format)
	case decisionID != "":
		return s.queryByID(ctx, decisionID, format)
	default:
		return s.queryContradictions(ctx, limit, format)
	}
}

func (s *Server) queryByText(ctx context.Context, query string, limit int, format Format) (*mcplib.CallToolResult, error) {
	threshold := s.cfg.DecisionGraph.TierBoundaries.Moderate
	matches, err := s.graph.Retriever().FindRelevant(ctx, query, threshold, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return textResult(formatMatches(matches, format)), nil
}

func (s *Server) queryByID(ctx context.Context, id string, format Format) (*mcplib.CallToolResult, error) {
	detail, err := s.loadDecisionDetail(ctx, id)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(formatDetail(*detail, format)), nil
}

func (s *Server) queryContradictions(ctx context.Context, limit int, format Format) (*mcplib.CallToolResult, error) {
	pairs, err := s.graph.FindContradictions(ctx, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("contradiction scan failed: %v", err)), nil
	}
	return textResult(formatContradictions(pairs, format)), nil
}

// ── helpers ────────────────────────────────────────────────────────────────────

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
