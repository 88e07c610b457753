// Package mcpadapter exposes retrieval as Model Context Protocol tools over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

const serverName = "docs-assistant"

type IndexStatusProvider interface {
	Status(ctx context.Context) (*domain.IndexStatus, error)
}

type Server struct {
	query      ports.QueryService
	classifier ports.QueryClassifier
	status     IndexStatusProvider
	mcp        *server.MCPServer
}

// NewServer registers the tools. status may be nil, in which case the
// index_status tool is not offered.
func NewServer(version string, query ports.QueryService, classifier ports.QueryClassifier, status IndexStatusProvider) *Server {
	s := &Server{
		query:      query,
		classifier: classifier,
		status:     status,
		mcp:        server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
	}

	strategyOption := mcp.WithString("strategy",
		mcp.Description("Retrieval strategy. auto picks one from the query intent."),
		mcp.Enum("auto", "semantic", "keyword", "hybrid"),
	)
	limitOption := mcp.WithNumber("limit",
		mcp.Description("Maximum number of passages, 1 to 50."),
	)

	s.mcp.AddTool(mcp.NewTool("search_docs",
		mcp.WithDescription("Search the documentation and return ranked passages with source URLs."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language question or keywords.")),
		limitOption,
		strategyOption,
	), s.searchDocs)

	s.mcp.AddTool(mcp.NewTool("ask_docs",
		mcp.WithDescription("Answer a question from the documentation and cite the passages used."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Question to answer.")),
		limitOption,
		strategyOption,
	), s.askDocs)

	s.mcp.AddTool(mcp.NewTool("classify_query",
		mcp.WithDescription("Show how a query is expanded and which retrieval strategy it maps to."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Query to classify.")),
	), s.classifyQuery)

	if status != nil {
		s.mcp.AddTool(mcp.NewTool("index_status",
			mcp.WithDescription("Report index size and whether a re-index is running."),
		), s.indexStatus)
	}
	return s
}

// ServeStdio blocks serving JSON-RPC on stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) searchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, errResult := queryRequestFromTool(request)
	if errResult != nil {
		return errResult, nil
	}
	outcome, err := s.query.Retrieve(ctx, req)
	if err != nil {
		return toolError("search_docs", err), nil
	}
	return jsonResult(outcome)
}

func (s *Server) askDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, errResult := queryRequestFromTool(request)
	if errResult != nil {
		return errResult, nil
	}
	answer, err := s.query.Answer(ctx, req)
	if err != nil {
		return toolError("ask_docs", err), nil
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if len(answer.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, p := range answer.Sources {
			fmt.Fprintf(&b, "%d. %s %s\n", p.Rank, p.Chunk.Title, p.Chunk.URL)
		}
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) classifyQuery(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query must not be empty"), nil
	}
	return jsonResult(s.classifier.Classify(query))
}

func (s *Server) indexStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.status.Status(ctx)
	if err != nil {
		return toolError("index_status", err), nil
	}
	return jsonResult(status)
}

func queryRequestFromTool(request mcp.CallToolRequest) (domain.QueryRequest, *mcp.CallToolResult) {
	query, err := request.RequireString("query")
	if err != nil {
		return domain.QueryRequest{}, mcp.NewToolResultError(err.Error())
	}
	strategy, ok := domain.ParseStrategy(strings.ToLower(request.GetString("strategy", "")))
	if !ok {
		return domain.QueryRequest{}, mcp.NewToolResultError("strategy must be one of auto, semantic, keyword, hybrid")
	}
	limit := request.GetInt("limit", 0)
	if limit < 0 || limit > 50 {
		return domain.QueryRequest{}, mcp.NewToolResultError("limit must be between 1 and 50")
	}
	return domain.QueryRequest{Query: query, Limit: limit, Strategy: strategy}, nil
}

func toolError(tool string, err error) *mcp.CallToolResult {
	slog.Warn("mcp_tool_failed", "tool", tool, "error", err.Error())
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return mcp.NewToolResultError(err.Error())
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return mcp.NewToolResultError("search backend temporarily unavailable, retry later")
	}
	return mcp.NewToolResultError("search failed")
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
