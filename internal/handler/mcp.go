// MCP tool surface using the official MCP Go SDK.
// Exposes sync, migration and export operations as MCP tools for a scheduler
// or an operator's agent.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"unycop-connector/internal/batch"
	"unycop-connector/internal/export"
	"unycop-connector/internal/model"
)

// === MCP Tool Input Types ===
// Optional fields carry omitempty so the inferred schema leaves them out of
// "required".

// QuickSyncInput is the input schema for quick_sync. It takes no arguments.
type QuickSyncInput struct{}

// ChunkInput is the input schema for run_chunk and run_migration_chunk.
type ChunkInput struct {
	Offset    int    `json:"offset" jsonschema:"rows already processed; 0 starts a new run"`
	ChunkSize int    `json:"chunk_size,omitempty" jsonschema:"rows to process in this call"`
	Reset     bool   `json:"reset,omitempty" jsonschema:"discard persisted progress before running"`
	RunToken  string `json:"run_token,omitempty" jsonschema:"token returned by the previous chunk of the same run"`
}

// TargetInput is the input schema for reset_progress and progress_status.
type TargetInput struct {
	Target string `json:"target,omitempty" jsonschema:"sync (default) or migration"`
}

// ExportInput is the input schema for export_orders.
type ExportInput struct {
	Status string `json:"status,omitempty" jsonschema:"order status to export, default completed"`
	From   string `json:"from,omitempty" jsonschema:"earliest creation date, RFC 3339 or YYYY-MM-DD"`
	To     string `json:"to,omitempty" jsonschema:"latest creation date, RFC 3339 or YYYY-MM-DD (whole day)"`
}

// NewMCPServer creates an MCP server with the connector tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "unycop-connector",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Unycop connector - keeps the store catalog in step with the pharmacy stock feed " +
				"and exports completed orders for the ERP. Drive chunked runs by calling run_chunk " +
				"with the returned new_offset and run_token until more_remaining is false.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "quick_sync",
		Description: "Update stock and prices of existing products from the whole feed in one pass. Writes only what changed.",
	}, h.mcpQuickSync)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_chunk",
		Description: "Process one chunk of the full catalog sync, creating or updating products. Progress is persisted between calls.",
	}, h.mcpRunChunk)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_migration_chunk",
		Description: "Process one chunk of the key migration that rewrites product SKUs to national codes.",
	}, h.mcpRunMigrationChunk)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_progress",
		Description: "Discard the persisted progress of the sync or migration run.",
	}, h.mcpResetProgress)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "progress_status",
		Description: "Report the persisted progress of the sync or migration run.",
	}, h.mcpProgressStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_orders",
		Description: "Regenerate the order export file. Returns skipped=true if another export is running.",
	}, h.mcpExportOrders)

	return server
}

// === Tool Handlers ===

func (h *Handler) mcpQuickSync(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input QuickSyncInput,
) (*mcp.CallToolResult, *QuickView, error) {
	v, err := h.QuickSync(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, v, nil
}

func (h *Handler) mcpRunChunk(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ChunkInput,
) (*mcp.CallToolResult, *ChunkView, error) {
	return h.mcpChunk(ctx, TargetSync, input)
}

func (h *Handler) mcpRunMigrationChunk(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ChunkInput,
) (*mcp.CallToolResult, *ChunkView, error) {
	return h.mcpChunk(ctx, TargetMigration, input)
}

func (h *Handler) mcpChunk(ctx context.Context, target string, input ChunkInput) (*mcp.CallToolResult, *ChunkView, error) {
	if input.Offset < 0 {
		return nil, nil, fmt.Errorf("offset must not be negative")
	}
	v, err := h.RunChunk(ctx, target, batch.Request{
		Offset:    input.Offset,
		ChunkSize: input.ChunkSize,
		Reset:     input.Reset,
		RunToken:  input.RunToken,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, v, nil
}

func (h *Handler) mcpResetProgress(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TargetInput,
) (*mcp.CallToolResult, *ResetView, error) {
	v, err := h.Reset(ctx, input.Target)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, v, nil
}

func (h *Handler) mcpProgressStatus(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input TargetInput,
) (*mcp.CallToolResult, *StatusView, error) {
	v, err := h.Status(ctx, input.Target)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, v, nil
}

func (h *Handler) mcpExportOrders(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ExportInput,
) (*mcp.CallToolResult, *export.Result, error) {
	from, err := h.ParseBound(input.From, false)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	to, err := h.ParseBound(input.To, true)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	res, err := h.ExportOrders(ctx, export.Filter{Status: input.Status, From: from, To: to})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, res, nil
}

// mcpError converts operation errors to MCP-friendly errors.
// Errors the caller can act on keep their message; anything else is logged
// and reported as internal.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	for _, known := range []error{
		model.ErrRunConflict,
		model.ErrMigrationPending,
		model.ErrFeedNotFound,
		model.ErrInvalidRequest,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
