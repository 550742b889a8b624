package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kwonno/O2-maintenance-sub000/internal/config"
	"github.com/kwonno/O2-maintenance-sub000/internal/descriptions"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/preview"
	"github.com/kwonno/O2-maintenance-sub000/internal/service"
)

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	svc       *service.Service
	mcpServer *server.MCPServer
	sse       *server.SSEServer
	logger    *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, svc *service.Service, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		svc:       svc,
		mcpServer: mcpServer,
		sse:       server.NewSSEServer(mcpServer, server.WithBaseURL("http://"+cfg.Address())),
		logger:    logger,
	}

	s.registerTools()

	return s, nil
}

// toolNames is the registration order, reported by server_info
var toolNames = []string{
	"document_info", "pdf_preview", "pdf_click", "sheet_preview", "sheet_click", "stamp_document", "server_info",
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"document_info",
		mcp.WithDescription(descriptions.DocumentInfoDescription),
		mcp.WithString("path", mcp.Required(), mcp.Description("Storage path of the PDF or spreadsheet")),
		mcp.WithString("type", mcp.Description("Document type: pdf, xlsx or xls (defaults to the file extension)")),
	), s.handleDocumentInfo)

	s.mcpServer.AddTool(mcp.NewTool(
		"pdf_preview",
		mcp.WithDescription(descriptions.PDFPreviewDescription),
		mcp.WithString("path", mcp.Required(), mcp.Description("Storage path of the PDF")),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
		mcp.WithNumber("container_width", mcp.Description("Preview container width in pixels")),
		mcp.WithNumber("container_height", mcp.Description("Preview container height in pixels")),
		mcp.WithNumber("marker_x", mcp.Description("Existing placement x in page points")),
		mcp.WithNumber("marker_y", mcp.Description("Existing placement y in page points")),
	), s.handlePDFPreview)

	s.mcpServer.AddTool(mcp.NewTool(
		"pdf_click",
		mcp.WithDescription(descriptions.PDFClickDescription),
		mcp.WithString("path", mcp.Required(), mcp.Description("Storage path of the PDF")),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
		mcp.WithNumber("container_width", mcp.Description("Preview container width in pixels")),
		mcp.WithNumber("container_height", mcp.Description("Preview container height in pixels")),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Click x in pixels from the left of the page image")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Click y in pixels from the top of the page image")),
	), s.handlePDFClick)

	s.mcpServer.AddTool(mcp.NewTool(
		"sheet_preview",
		mcp.WithDescription(descriptions.SheetPreviewDescription),
		mcp.WithString("path", mcp.Required(), mcp.Description("Storage path of the workbook")),
		mcp.WithString("type", mcp.Description("xlsx or xls (defaults to the file extension)")),
	), s.handleSheetPreview)

	s.mcpServer.AddTool(mcp.NewTool(
		"sheet_click",
		mcp.WithDescription(descriptions.SheetClickDescription),
		mcp.WithString("path", mcp.Required(), mcp.Description("Storage path of the workbook")),
		mcp.WithString("type", mcp.Description("xlsx or xls (defaults to the file extension)")),
		mcp.WithString("address", mcp.Required(), mcp.Description("A1 address of the rendered cell that was clicked")),
		mcp.WithNumber("offset_x", mcp.Description("Click x in pixels inside the rendered cell")),
		mcp.WithNumber("offset_y", mcp.Description("Click y in pixels inside the rendered cell")),
		mcp.WithNumber("width", mcp.Description("Rendered cell width in pixels")),
		mcp.WithNumber("height", mcp.Description("Rendered cell height in pixels")),
	), s.handleSheetClick)

	s.mcpServer.AddTool(mcp.NewTool(
		"stamp_document",
		mcp.WithDescription(descriptions.StampDocumentDescription),
		mcp.WithString("path", mcp.Required(), mcp.Description("Storage path of the document to sign")),
		mcp.WithString("type", mcp.Description("pdf, xlsx or xls (defaults to the file extension)")),
		mcp.WithString("signature_path", mcp.Description("Storage path of a PNG, JPEG or GIF signature image")),
		mcp.WithString("signature_data_url", mcp.Description("Inline data:image/...;base64 signature")),
		mcp.WithArray("strokes", mcp.Description("Freehand strokes: a list of strokes, each a list of {x, y} pad points")),
		mcp.WithNumber("pad_width", mcp.Description("Signature pad width in pixels for strokes")),
		mcp.WithNumber("pad_height", mcp.Description("Signature pad height in pixels for strokes")),
		mcp.WithNumber("x", mcp.Description("Placement x (PDF points from the left)")),
		mcp.WithNumber("y", mcp.Description("Placement y (PDF points from the bottom)")),
		mcp.WithNumber("page", mcp.Description("1-based page for PDFs (default 1)")),
		mcp.WithString("cell_address", mcp.Description("Target cell for spreadsheets, e.g. F10")),
		mcp.WithString("label_text", mcp.Description("Label text (defaults to display_name)")),
		mcp.WithNumber("label_x", mcp.Description("Label center x")),
		mcp.WithNumber("label_y", mcp.Description("Label center y")),
		mcp.WithString("label_cell", mcp.Description("Label cell for spreadsheets")),
		mcp.WithString("display_name", mcp.Description("Signer name, used as the label when label_text is empty")),
		mcp.WithString("output_path", mcp.Description("Where to write the result (default <name>.signed.<ext>)")),
	), s.handleStampDocument)

	s.mcpServer.AddTool(mcp.NewTool(
		"server_info",
		mcp.WithDescription(descriptions.ServerInfoDescription),
	), s.handleServerInfo)
}

// Handler functions
func (s *Server) handleDocumentInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info, err := s.svc.Info(ctx, path, request.GetString("type", ""))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(s.formatDocumentInfo(info)), nil
}

func (s *Server) handlePDFPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := service.PDFPreviewRequest{
		Path:            path,
		Page:            request.GetInt("page", 1),
		ContainerWidth:  request.GetFloat("container_width", 0),
		ContainerHeight: request.GetFloat("container_height", 0),
	}
	args := request.GetArguments()
	if has(args, "marker_x") && has(args, "marker_y") {
		req.Marker = &document.SignaturePlacement{
			X:    request.GetFloat("marker_x", 0),
			Y:    request.GetFloat("marker_y", 0),
			Page: req.Page,
		}
	}

	result, err := s.svc.PreviewPDF(ctx, req)
	if err != nil {
		return toolError(err), nil
	}

	text := fmt.Sprintf("Page %d of %d (%.0fx%.0f pt), scale %.4f, raster %dx%d px",
		result.Page, result.PageCount, result.PageWidth, result.PageHeight,
		result.Scale, result.RasterWidth, result.RasterHeight)
	if result.Marker != nil {
		text += fmt.Sprintf(", marker at (%.1f, %.1f) px", result.Marker.X, result.Marker.Y)
	}
	return mcp.NewToolResultImage(text, base64.StdEncoding.EncodeToString(result.PNG), "image/png"), nil
}

func (s *Server) handlePDFClick(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	x, err := request.RequireFloat("x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := request.RequireFloat("y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	placement, err := s.svc.ResolvePDFClick(ctx, service.PDFClickRequest{
		Path:            path,
		Page:            request.GetInt("page", 1),
		ContainerWidth:  request.GetFloat("container_width", 0),
		ContainerHeight: request.GetFloat("container_height", 0),
		ScreenX:         x,
		ScreenY:         y,
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(placement)
}

func (s *Server) handleSheetPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.svc.PreviewSheet(ctx, path, request.GetString("type", ""))
	if err != nil {
		return toolError(err), nil
	}

	summary := fmt.Sprintf("Sheet %q: %d columns x %d rows", result.View.Sheet, len(result.View.Columns), len(result.View.Rows))
	if result.View.Placeholder {
		summary = fmt.Sprintf("Sheet %q has %d cells, too large to render; place by cell address instead",
			result.View.Sheet, result.View.CellCount)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(summary),
			mcp.NewTextContent(result.HTML),
		},
	}, nil
}

func (s *Server) handleSheetClick(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	address, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	placement, err := s.svc.ResolveSheetClick(ctx, service.SheetClickRequest{
		Path: path,
		Type: request.GetString("type", ""),
		Click: preview.CellClick{
			Address: address,
			OffsetX: request.GetFloat("offset_x", 0),
			OffsetY: request.GetFloat("offset_y", 0),
			Width:   request.GetFloat("width", 0),
			Height:  request.GetFloat("height", 0),
		},
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(placement)
}

func (s *Server) handleStampDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	strokes, err := decodeStrokes(args["strokes"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := service.StampRequest{
		Path: path,
		Type: request.GetString("type", ""),
		Signature: service.SignatureInput{
			Path:      request.GetString("signature_path", ""),
			DataURL:   request.GetString("signature_data_url", ""),
			Strokes:   strokes,
			PadWidth:  request.GetInt("pad_width", 0),
			PadHeight: request.GetInt("pad_height", 0),
		},
		Placement: document.SignaturePlacement{
			X:           request.GetFloat("x", 0),
			Y:           request.GetFloat("y", 0),
			Page:        request.GetInt("page", 1),
			CellAddress: request.GetString("cell_address", ""),
		},
		DisplayName: request.GetString("display_name", ""),
		OutputPath:  request.GetString("output_path", ""),
	}
	if has(args, "label_text") || has(args, "label_x") || has(args, "label_y") || has(args, "label_cell") {
		req.Label = &document.TextLabelPlacement{
			Text:        request.GetString("label_text", ""),
			X:           request.GetFloat("label_x", 0),
			Y:           request.GetFloat("label_y", 0),
			CellAddress: request.GetString("label_cell", ""),
		}
	}

	result, err := s.svc.Stamp(ctx, req)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(s.formatStampResult(result)), nil
}

// ServerInfo is the server_info payload
type ServerInfo struct {
	ServerName  string   `json:"server_name"`
	Version     string   `json:"version"`
	Mode        string   `json:"mode"`
	Storage     string   `json:"storage"`
	MaxFileSize int64    `json:"max_file_size"`
	Fonts       []string `json:"fonts"`
	Tools       []string `json:"tools"`
	Formats     []string `json:"formats"`
}

func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(ServerInfo{
		ServerName:  s.config.ServerName,
		Version:     s.config.Version,
		Mode:        s.config.Mode,
		Storage:     s.svc.Store().Backend(),
		MaxFileSize: s.config.MaxFileSize,
		Fonts:       s.svc.Fonts(),
		Tools:       toolNames,
		Formats: []string{
			string(document.TypePDF), string(document.TypeXLSX), string(document.TypeXLS),
		},
	})
}

func (s *Server) formatDocumentInfo(info *service.DocumentInfo) string {
	text := fmt.Sprintf("Document: %s\n", info.Path)
	text += fmt.Sprintf("Type: %s\n", info.Type)
	text += fmt.Sprintf("Size: %d bytes\n", info.Size)

	if info.Type == document.TypePDF {
		text += fmt.Sprintf("Pages: %d\n", info.PageCount)
		for _, p := range info.Pages {
			text += fmt.Sprintf("  %d. %.0f x %.0f pt\n", p.Page, p.Width, p.Height)
		}
		return text
	}

	text += fmt.Sprintf("Sheet: %s\n", info.Sheet)
	text += fmt.Sprintf("Grid: %d columns x %d rows\n", info.Columns, info.Rows)
	if len(info.Merges) > 0 {
		text += fmt.Sprintf("Merged ranges: %s\n", strings.Join(info.Merges, ", "))
	}
	if info.Placeholder {
		text += "Preview: too large to render, place by cell address\n"
	}
	return text
}

func (s *Server) formatStampResult(result *service.StampResponse) string {
	var text string
	if result.Stamped {
		text = fmt.Sprintf("Signed document written to %s\n", result.OutputPath)
	} else {
		text = fmt.Sprintf("Placement rejected, original copied unchanged to %s\n", result.OutputPath)
	}
	text += fmt.Sprintf("Content Type: %s\n", result.ContentType)
	text += fmt.Sprintf("Size: %d bytes\n", result.Size)
	if result.ImageCell != "" {
		text += fmt.Sprintf("Image Cell: %s\n", result.ImageCell)
	}
	if result.LabelDrawn {
		text += "Label: drawn"
		switch {
		case result.LabelCell != "":
			text += " in " + result.LabelCell
		case result.Font != "":
			text += " with " + result.Font
		}
		text += "\n"
	}
	if result.URL != "" {
		text += fmt.Sprintf("URL: %s\n", result.URL)
	}
	for _, w := range result.Warnings {
		text += fmt.Sprintf("Warning: %s\n", w)
	}
	return text
}

// toolError reports err to the client, prefixed with its kind when it is a document error
func toolError(err error) *mcp.CallToolResult {
	var docErr *document.Error
	if errors.As(err, &docErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", docErr.Kind, err))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func has(args map[string]any, key string) bool {
	v, ok := args[key]
	return ok && v != nil
}

// decodeStrokes accepts the strokes argument as decoded JSON
func decodeStrokes(raw any) ([][]service.Point, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid strokes: %w", err)
	}
	var strokes [][]service.Point
	if err := json.Unmarshal(data, &strokes); err != nil {
		return nil, fmt.Errorf("invalid strokes: expected [[{\"x\":..,\"y\":..}]]: %w", err)
	}
	return strokes, nil
}
