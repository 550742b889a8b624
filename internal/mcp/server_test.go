package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonno/O2-maintenance-sub000/internal/config"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/service"
	"github.com/kwonno/O2-maintenance-sub000/internal/signature"
	"github.com/kwonno/O2-maintenance-sub000/internal/stamp"
	"github.com/kwonno/O2-maintenance-sub000/internal/storage"
	"github.com/kwonno/O2-maintenance-sub000/internal/testutil"
)

func newTestServer(t *testing.T, store storage.Store) *Server {
	t.Helper()
	engine, err := stamp.NewEngine(stamp.Options{FontCacheDir: t.TempDir()}, nil)
	require.NoError(t, err)
	svc, err := service.New(service.Options{
		Store:           store,
		Engine:          engine,
		ContainerWidth:  306,
		ContainerHeight: 396,
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.ServerName = "test-server"
	cfg.StorageBackend = store.Backend()
	s, err := NewServer(cfg, svc, nil)
	require.NoError(t, err)
	return s
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func put(t *testing.T, store storage.Store, path string, data []byte) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), path, data, ""))
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.sse)
	assert.Equal(t, "test-server", s.config.ServerName)

	_, err := NewServer(nil, s.svc, nil)
	assert.Error(t, err)
	_, err = NewServer(s.config, nil, nil)
	assert.Error(t, err)
}

func TestServer_HandleDocumentInfo(t *testing.T) {
	store := storage.NewMemory()
	put(t, store, "lease.pdf", testutil.PDF(2, 612, 792))
	put(t, store, "q3.xlsx", testutil.Workbook(map[string]any{"A1": "x"}, "B5:D5"))
	s := newTestServer(t, store)

	result, err := s.handleDocumentInfo(context.Background(), call(map[string]interface{}{"path": "lease.pdf"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := extractTextFromResult(result)
	assert.Contains(t, text, "Pages: 2")
	assert.Contains(t, text, "612 x 792 pt")

	result, err = s.handleDocumentInfo(context.Background(), call(map[string]interface{}{"path": "q3.xlsx"}))
	require.NoError(t, err)
	assert.Contains(t, extractTextFromResult(result), "B5:D5")
}

func TestServer_InvalidArguments(t *testing.T) {
	store := storage.NewMemory()
	put(t, store, "notes.docx", []byte("hello"))
	s := newTestServer(t, store)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
		want    string
	}{
		{"missing path", s.handleDocumentInfo, map[string]interface{}{}, "path"},
		{"unsupported type", s.handleDocumentInfo, map[string]interface{}{"path": "notes.docx"}, "UNSUPPORTED_DOCUMENT_TYPE"},
		{"missing click x", s.handlePDFClick, map[string]interface{}{"path": "a.pdf", "y": 1.0}, "x"},
		{"missing address", s.handleSheetClick, map[string]interface{}{"path": "a.xlsx"}, "address"},
		{"bad strokes", s.handleStampDocument, map[string]interface{}{"path": "a.pdf", "strokes": "zigzag"}, "strokes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(context.Background(), call(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractTextFromResult(result), tt.want)
		})
	}
}

func TestServer_HandlePDFClickAndPreview(t *testing.T) {
	store := storage.NewMemory()
	put(t, store, "a.pdf", testutil.PDF(2, 612, 792))
	s := newTestServer(t, store)

	result, err := s.handlePDFClick(context.Background(), call(map[string]interface{}{
		"path": "a.pdf", "page": 2.0, "x": 145.5, "y": 188.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	var p document.SignaturePlacement
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &p))
	assert.Equal(t, 2, p.Page)
	assert.InDelta(t, 306, p.X, 1)
	assert.InDelta(t, 396, p.Y, 1)

	result, err = s.handlePDFPreview(context.Background(), call(map[string]interface{}{
		"path": "a.pdf", "marker_x": 306.0, "marker_y": 396.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractTextFromResult(result), "raster 291x376 px")

	var img *mcp.ImageContent
	for _, c := range result.Content {
		switch ic := c.(type) {
		case mcp.ImageContent:
			img = &ic
		case *mcp.ImageContent:
			img = ic
		}
	}
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.NotEmpty(t, img.Data)
}

func TestServer_HandleSheetPreviewAndClick(t *testing.T) {
	store := storage.NewMemory()
	put(t, store, "q3.xlsx", testutil.Workbook(map[string]any{"A1": "Name", "B5": "Total"}, "B5:D5"))
	s := newTestServer(t, store)

	result, err := s.handleSheetPreview(context.Background(), call(map[string]interface{}{"path": "q3.xlsx"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 2)
	assert.Contains(t, extractTextFromResult(result), "Sheet \"Sheet1\"")

	result, err = s.handleSheetClick(context.Background(), call(map[string]interface{}{
		"path": "q3.xlsx", "address": "B5", "offset_x": 190.0, "offset_y": 5.0, "width": 200.0, "height": 20.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	var p document.SignaturePlacement
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &p))
	assert.Equal(t, "D5", p.CellAddress)
}

func TestServer_HandleStampDocument(t *testing.T) {
	store := storage.NewMemory()
	put(t, store, "lease.pdf", testutil.PDF(1, 612, 792))
	put(t, store, "q3.xlsx", testutil.Workbook(map[string]any{"A1": "Approver"}))
	s := newTestServer(t, store)

	img, err := signature.Normalize(testutil.PNG(400, 160))
	require.NoError(t, err)

	t.Run("pdf with data url", func(t *testing.T) {
		result, err := s.handleStampDocument(context.Background(), call(map[string]interface{}{
			"path":               "lease.pdf",
			"signature_data_url": img.DataURL(),
			"x":                  300.0,
			"y":                  400.0,
			"display_name":       "Jane Roe",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, extractTextFromResult(result))

		text := extractTextFromResult(result)
		assert.Contains(t, text, "Signed document written to lease.signed.pdf")
		assert.Contains(t, text, "URL: memory:///lease.signed.pdf")
		_, err = store.Get(context.Background(), "lease.signed.pdf")
		assert.NoError(t, err)
	})

	t.Run("sheet with strokes", func(t *testing.T) {
		result, err := s.handleStampDocument(context.Background(), call(map[string]interface{}{
			"path": "q3.xlsx",
			"strokes": []interface{}{
				[]interface{}{
					map[string]interface{}{"x": 10.0, "y": 10.0},
					map[string]interface{}{"x": 200.0, "y": 80.0},
				},
			},
			"pad_width":    400.0,
			"pad_height":   160.0,
			"cell_address": "B2",
			"label_text":   "Approved",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, extractTextFromResult(result))

		text := extractTextFromResult(result)
		assert.Contains(t, text, "Image Cell: B2")
		assert.Contains(t, text, "Label: drawn in B3")
	})

	t.Run("stale page keeps the original", func(t *testing.T) {
		result, err := s.handleStampDocument(context.Background(), call(map[string]interface{}{
			"path":               "lease.pdf",
			"signature_data_url": img.DataURL(),
			"x":                  300.0,
			"y":                  400.0,
			"page":               4.0,
			"output_path":        "stale.pdf",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)

		text := extractTextFromResult(result)
		assert.Contains(t, text, "Placement rejected")
		assert.Contains(t, text, "Warning:")
	})

	t.Run("no signature", func(t *testing.T) {
		result, err := s.handleStampDocument(context.Background(), call(map[string]interface{}{"path": "lease.pdf"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestServer_HandleServerInfo(t *testing.T) {
	s := newTestServer(t, storage.NewMemory())

	result, err := s.handleServerInfo(context.Background(), call(nil))
	require.NoError(t, err)

	var info ServerInfo
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &info))
	assert.Equal(t, "test-server", info.ServerName)
	assert.Equal(t, "memory", info.Storage)
	assert.Equal(t, toolNames, info.Tools)
	assert.Contains(t, info.Formats, "xls")
}

// Helper function to extract text from a CallToolResult
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}

	return ""
}
