// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes cmmgraph tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/cmmgraph/internal/engine"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/models"
)

const contractURI = "cmmgraph://graph-format"

// Server wraps the MCP server with cmmgraph tools.
type Server struct {
	mcp *server.MCPServer
	eng *engine.Engine
}

// New creates a new MCP server with all cmmgraph tools registered.
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng}

	s.mcp = server.NewMCPServer(
		"cmmgraph",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_modules",
		mcp.WithDescription("List loaded color management modules with their signatures and API records."),
	), s.listModules)

	s.mcp.AddTool(mcp.NewTool("query_modules",
		mcp.WithDescription("Rank module records of a kind against a registration pattern. "+
			"The first candidate is the one a graph node would be built from."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Record kind: filter, executor, device-config or policy")),
		mcp.WithString("pattern", mcp.Description("Registration pattern (e.g. icc.transform)")),
		mcp.WithString("preferred", mcp.Description("Preferred four character module signature")),
	), s.queryModules)

	s.mcp.AddTool(mcp.NewTool("list_graphs",
		mcp.WithDescription("List stored graph definitions with node and edge counts."),
	), s.listGraphs)

	s.mcp.AddTool(mcp.NewTool("read_graph",
		mcp.WithDescription("Read the YAML definition of a graph."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Graph name (path without .yaml)")),
	), s.readGraph)

	s.mcp.AddTool(mcp.NewTool("put_graph",
		mcp.WithDescription("Create or replace a graph definition. "+
			"The definition MUST follow the graph format contract. Read it first via "+
			"the get_graph_contract tool or the "+contractURI+" resource."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Graph name (path without .yaml)")),
		mcp.WithString("definition", mcp.Required(), mcp.Description("YAML graph definition")),
		mcp.WithString("if_match", mcp.Description("Checksum of the definition being replaced")),
	), s.putGraph)

	s.mcp.AddTool(mcp.NewTool("import_graph",
		mcp.WithDescription("Fetch a YAML graph definition from an http(s) or base64 data URI and store it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Source URL or data:application/yaml;base64,... URI")),
		mcp.WithString("name", mcp.Description("Graph name; derived from the URL when empty")),
	), s.importGraph)

	s.mcp.AddTool(mcp.NewTool("graph_text",
		mcp.WithDescription("Render a built graph in dot format."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Graph name")),
	), s.graphText)

	s.mcp.AddTool(mcp.NewTool("run_graph",
		mcp.WithDescription("Execute a graph with a fresh ticket and return the output pixels."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Graph name")),
		mcp.WithNumber("width", mcp.Description("Output width; defaults to the input node's width option")),
		mcp.WithNumber("height", mcp.Description("Output height; defaults to the input node's height option")),
		mcp.WithNumber("channels", mcp.Description("Output channels; defaults to the input node's channels option")),
		mcp.WithNumber("roi_x", mcp.Description("Region of interest left edge")),
		mcp.WithNumber("roi_y", mcp.Description("Region of interest top edge")),
		mcp.WithNumber("roi_width", mcp.Description("Region of interest width; 0 runs the whole image")),
		mcp.WithNumber("roi_height", mcp.Description("Region of interest height")),
		mcp.WithString("workspace", mcp.Description("Workspace UUID shared by related runs")),
	), s.runGraph)

	s.mcp.AddTool(mcp.NewTool("set_node_options",
		mcp.WithDescription("Change options of a graph node. Dependent contexts are rebuilt on the next run."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Graph name")),
		mcp.WithString("node", mcp.Required(), mcp.Description("Node id")),
		mcp.WithObject("options", mcp.Required(), mcp.Description("Option values keyed by name")),
	), s.setNodeOptions)

	s.mcp.AddTool(mcp.NewTool("get_device",
		mcp.WithDescription("Read a device binding."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Device id")),
	), s.getDevice)

	s.mcp.AddTool(mcp.NewTool("bind_device",
		mcp.WithDescription("Bind a device to a profile and an optional preferred module."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Device id")),
		mcp.WithString("profile", mcp.Required(), mcp.Description("Profile name")),
		mcp.WithString("class", mcp.Description("Device class (default monitor)")),
		mcp.WithString("preferred", mcp.Description("Preferred four character module signature")),
	), s.bindDevice)

	s.mcp.AddTool(mcp.NewTool("get_graph_contract",
		mcp.WithDescription("Returns the canonical graph definition contract. "+
			"Call this before creating or updating graphs to ensure correct structure."),
	), s.getGraphContract)

	// Resource: graph format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Graph Format Contract",
			mcp.WithResourceDescription("Canonical YAML format that all graph definitions must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGraphFormatResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listModules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.eng.ListModules())
}

func (s *Server) queryModules(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cands, err := s.eng.QueryModules(kind, req.GetString("pattern", ""), req.GetString("preferred", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cands)
}

func (s *Server) listGraphs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphs, err := s.eng.ListGraphs(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(graphs) == 0 {
		return mcp.NewToolResultText("no graphs found"), nil
	}
	lines := make([]string, 0, len(graphs))
	for _, g := range graphs {
		lines = append(lines, fmt.Sprintf("%s\tnodes=%d edges=%d output=%s", g.Name, g.Nodes, g.Edges, g.Output))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, _, err := s.eng.ReadGraph(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) putGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	def, err := req.RequireString("definition")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := s.eng.PutGraph(ctx, name, []byte(def), req.GetString("if_match", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("stored: %s (checksum %s)", name, sum.Checksum)), nil
}

func (s *Server) graphText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.eng.GraphText(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) runGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.RunGraph(ctx, name, engine.RunRequest{
		ROI: filter.Rect{
			X:      req.GetInt("roi_x", 0),
			Y:      req.GetInt("roi_y", 0),
			Width:  req.GetInt("roi_width", 0),
			Height: req.GetInt("roi_height", 0),
		},
		Width:     req.GetInt("width", 0),
		Height:    req.GetInt("height", 0),
		Channels:  req.GetInt("channels", 0),
		Workspace: req.GetString("workspace", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) setNodeOptions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	node, err := req.RequireString("node")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, ok := req.GetArguments()["options"].(map[string]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("options must be a non-empty object"), nil
	}
	opts := make(map[string]string, len(raw))
	for k, v := range raw {
		opts[k] = fmt.Sprint(v)
	}
	detail, err := s.eng.SetNodeOptions(ctx, name, node, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(detail)
}

func (s *Server) getDevice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.eng.GetDevice(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(d)
}

func (s *Server) bindDevice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	profile, err := req.RequireString("profile")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.eng.BindDevice(ctx, models.Device{
		ID:        id,
		Class:     req.GetString("class", ""),
		Profile:   profile,
		Preferred: req.GetString("preferred", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (s *Server) getGraphContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(GraphFormatContract), nil
}

func (s *Server) readGraphFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     GraphFormatContract,
		},
	}, nil
}
