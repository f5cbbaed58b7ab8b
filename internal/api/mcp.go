package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alitho/shipview/internal/shipment"
)

// MCPSession is the cache partition used by MCP callers that do not name one.
const MCPSession = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Shipments   ShipmentService
	Corruptions CorruptionLister // optional; the corruptions resource reports an empty list without it
}

// NewMCPServer creates an MCP server exposing shipment search and lookup.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"shipview",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shipview: read-only search over ERP shipments, cartons and their customer and carrier references."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_shipments",
			mcp.WithDescription("Search shipments by ship date range, job and customer. Results are newest first and paginated; totals are approximate."),
			mcp.WithString("startDate", mcp.Description("First ship day, YYYY-MM-DD")),
			mcp.WithString("endDate", mcp.Description("Last ship day, YYYY-MM-DD, inclusive")),
			mcp.WithString("job", mcp.Description("Exact job number")),
			mcp.WithString("customer", mcp.Description("Case-insensitive substring of the customer name or id")),
			mcp.WithNumber("page", mcp.Description("1-based page (default 1)")),
			mcp.WithNumber("pageSize", mcp.Description("Items per page (default 50, max 500)")),
			mcp.WithString("session", mcp.Description("Cache partition (default \"mcp\")")),
		),
		mcpSearchShipments(deps),
	)

	s.AddTool(
		mcp.NewTool("get_shipment",
			mcp.WithDescription("Read one shipment with its customer and ship-via resolved."),
			mcp.WithString("id", mcp.Description("Shipment id"), mcp.Required()),
		),
		mcpGetShipment(deps),
	)

	s.AddTool(
		mcp.NewTool("get_cartons",
			mcp.WithDescription("List the cartons of a shipment with their content lines."),
			mcp.WithString("id", mcp.Description("Shipment id"), mcp.Required()),
		),
		mcpGetCartons(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"shipview://corruptions",
			"Corrupted Records",
			mcp.WithResourceDescription("Open entries of the corruption ledger: ERP records that keep failing to read"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCorruptions(deps),
	)

	return s
}

func mcpSearchShipments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := shipment.Filter{
			StartDate: req.GetString("startDate", ""),
			EndDate:   req.GetString("endDate", ""),
			Job:       req.GetString("job", ""),
			Customer:  req.GetString("customer", ""),
			Page:      req.GetInt("page", 0),
			PageSize:  req.GetInt("pageSize", 0),
		}
		page, err := deps.Shipments.Search(ctx, req.GetString("session", MCPSession), f)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(page)
	}
}

func mcpGetShipment(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		rec, misses, err := deps.Shipments.GetOne(ctx, id)
		if err != nil {
			if shipment.KindOf(err) == shipment.KindNotFound {
				return mcpError(fmt.Sprintf("shipment %s not found", id)), nil
			}
			return mcpError(fmt.Sprintf("read failed: %v", err)), nil
		}
		return mcpJSON(ShipmentResponse{Shipment: rec, Misses: misses})
	}
}

func mcpGetCartons(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		res, err := deps.Shipments.GetCartons(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("carton read failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceCorruptions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text := "[]"
		if deps.Corruptions != nil {
			list, err := deps.Corruptions.ListCorruptions(ctx, false, 100)
			if err != nil {
				return nil, fmt.Errorf("failed to list corruptions: %w", err)
			}
			if len(list) > 0 {
				b, err := json.Marshal(list)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal corruptions: %w", err)
				}
				text = string(b)
			}
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     text,
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
