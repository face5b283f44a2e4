// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the post collection for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/folio/internal/postservice"
)

// PostFormatURI identifies the post format resource.
const PostFormatURI = "folio://post-format"

// Server wraps the MCP server with post collection tools.
type Server struct {
	mcp *server.MCPServer
	svc *postservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *postservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Folio",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List post metadata (id, title, author, date and extra front matter), newest first."),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("get_post",
		mcp.WithDescription("Get one post by id, including its rendered HTML content."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Post id: the filename without extension")),
	), s.getPost)

	s.mcp.AddTool(mcp.NewTool("list_route_ids",
		mcp.WithDescription("List every post id, newest first, one per line."),
	), s.listRouteIDs)

	s.mcp.AddTool(mcp.NewTool("get_post_format",
		mcp.WithDescription("Returns the content file format. "+
			"Read it before writing new posts."),
	), s.getPostFormat)

	s.mcp.AddResource(
		mcp.NewResource(PostFormatURI, "Post Format",
			mcp.WithResourceDescription("Front matter and file naming rules for posts."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPostFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listPosts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metas, err := s.svc.ListMeta(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.svc.GetByID(ctx, id)
	if err != nil {
		if postservice.IsNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRouteIDs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := s.svc.ListRouteIDs(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}

func (s *Server) getPostFormat(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PostFormatContract), nil
}

func (s *Server) readPostFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      PostFormatURI,
			MIMEType: "text/markdown",
			Text:     PostFormatContract,
		},
	}, nil
}
