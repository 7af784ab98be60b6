package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const recentDecisionsLimit = 20

func (s *Server) registerResources() {
	// gogi://decisions/recent — newest deliberations first.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"gogi://decisions/recent",
			"Recent Decisions",
			mcplib.WithResourceDescription("Recent deliberation outcomes, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDecisionsRecent,
	)

	// gogi://graph/stats — store counts plus cache and worker health.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"gogi://graph/stats",
			"Decision Graph Statistics",
			mcplib.WithResourceDescription("Decision graph size, cache hit rates, and similarity worker status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleGraphStats,
	)
}

func (s *Server) handleDecisionsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.graph == nil {
		return jsonResource(request.Params.URI, map[string]any{"disabled": true})
	}

	decisions, err := s.graph.Store().ListDecisions(ctx, recentDecisionsLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent decisions: %w", err)
	}

	out := make([]map[string]any, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, detailedDecision(d))
	}
	return jsonResource(request.Params.URI, out)
}

func (s *Server) handleGraphStats(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.graph == nil {
		return jsonResource(request.Params.URI, map[string]any{"disabled": true})
	}
	store := s.graph.Store()

	decisions, err := store.CountDecisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: count decisions: %w", err)
	}
	edges, err := store.CountEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: count edges: %w", err)
	}

	stats := map[string]any{
		"decisions": decisions,
		"edges":     edges,
		"db_path":   store.Path(),
	}
	if cacheStats := s.graph.Retriever().CacheStats(); cacheStats != nil {
		stats["cache"] = cacheStats
	}
	if w := s.graph.Worker(); w != nil {
		stats["worker"] = w.Stats()
	}
	return jsonResource(request.Params.URI, stats)
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal resource: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
