package mcp

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/securemcp/mcpcore/internal/middleware"
)

// ReadFileInput is the input schema for read_file.
type ReadFileInput struct {
	Path string `json:"path" jsonschema:"Path of the file to read. Must be inside an allowed directory."`
}

// WriteFileInput is the input schema for write_file.
type WriteFileInput struct {
	Path    string `json:"path" jsonschema:"Path of the file to write. Must be inside an allowed directory."`
	Content string `json:"content" jsonschema:"Content to write to the file."`
}

// ListFilesInput is the input schema for list_files.
type ListFilesInput struct {
	Path string `json:"path" jsonschema:"Path of the directory to list. Must be inside an allowed directory."`
}

// DeleteFileInput is the input schema for delete_file.
type DeleteFileInput struct {
	Path string `json:"path" jsonschema:"Path of the file to delete. Must be inside an allowed directory."`
}

// FileInfoInput is the input schema for file_info.
type FileInfoInput struct {
	Path string `json:"path" jsonschema:"Path of the file or directory to inspect."`
}

// registerFileTools registers read_file, write_file, list_files,
// delete_file and file_info.
func (s *Server) registerFileTools() error {
	readSchema, err := jsonschema.For[ReadFileInput](nil)
	if err != nil {
		return fmt.Errorf("schema for read_file: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "read_file",
		Description: "Read the complete content of a file inside the allowed directories.",
		InputSchema: readSchema,
	}, s.handleReadFile)

	writeSchema, err := jsonschema.For[WriteFileInput](nil)
	if err != nil {
		return fmt.Errorf("schema for write_file: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "write_file",
		Description: "Write or create a file inside the allowed directories. The write is atomic.",
		InputSchema: writeSchema,
	}, s.handleWriteFile)

	listSchema, err := jsonschema.For[ListFilesInput](nil)
	if err != nil {
		return fmt.Errorf("schema for list_files: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_files",
		Description: "List files and subdirectories of a directory inside the allowed directories.",
		InputSchema: listSchema,
	}, s.handleListFiles)

	deleteSchema, err := jsonschema.For[DeleteFileInput](nil)
	if err != nil {
		return fmt.Errorf("schema for delete_file: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_file",
		Description: "Delete a file inside the allowed directories permanently.",
		InputSchema: deleteSchema,
	}, s.handleDeleteFile)

	infoSchema, err := jsonschema.For[FileInfoInput](nil)
	if err != nil {
		return fmt.Errorf("schema for file_info: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "file_info",
		Description: "Get metadata (size, mode, modification time) for a file or directory inside the allowed directories.",
		InputSchema: infoSchema,
	}, s.handleFileInfo)

	return nil
}

func (s *Server) handleReadFile(ctx context.Context, req *mcp.CallToolRequest, in ReadFileInput) (*mcp.CallToolResult, any, error) {
	result, err := s.dispatch(ctx, req, "read_file", map[string]any{"path": in.Path},
		func(ctx context.Context, r *middleware.Request) (any, error) {
			data, err := s.files.Read(ctx, in.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"path":    in.Path,
				"content": string(data),
				"size":    len(data),
			}, nil
		})
	if err != nil {
		return errorToMCP(err, s.logger), nil, nil
	}
	return dataToMCP(result, s.logger), nil, nil
}

func (s *Server) handleWriteFile(ctx context.Context, req *mcp.CallToolRequest, in WriteFileInput) (*mcp.CallToolResult, any, error) {
	args := map[string]any{"path": in.Path, "content": in.Content}
	result, err := s.dispatch(ctx, req, "write_file", args,
		func(ctx context.Context, r *middleware.Request) (any, error) {
			if err := s.files.Write(ctx, in.Path, []byte(in.Content)); err != nil {
				return nil, err
			}
			return map[string]any{
				"path":    in.Path,
				"written": len(in.Content),
			}, nil
		})
	if err != nil {
		return errorToMCP(err, s.logger), nil, nil
	}
	return dataToMCP(result, s.logger), nil, nil
}

func (s *Server) handleListFiles(ctx context.Context, req *mcp.CallToolRequest, in ListFilesInput) (*mcp.CallToolResult, any, error) {
	result, err := s.dispatch(ctx, req, "list_files", map[string]any{"path": in.Path},
		func(ctx context.Context, r *middleware.Request) (any, error) {
			entries, err := s.files.List(ctx, in.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"path":    in.Path,
				"entries": entries,
				"count":   len(entries),
			}, nil
		})
	if err != nil {
		return errorToMCP(err, s.logger), nil, nil
	}
	return dataToMCP(result, s.logger), nil, nil
}

func (s *Server) handleDeleteFile(ctx context.Context, req *mcp.CallToolRequest, in DeleteFileInput) (*mcp.CallToolResult, any, error) {
	result, err := s.dispatch(ctx, req, "delete_file", map[string]any{"path": in.Path},
		func(ctx context.Context, r *middleware.Request) (any, error) {
			if err := s.files.Delete(ctx, in.Path); err != nil {
				return nil, err
			}
			return map[string]any{
				"path":    in.Path,
				"deleted": true,
			}, nil
		})
	if err != nil {
		return errorToMCP(err, s.logger), nil, nil
	}
	return dataToMCP(result, s.logger), nil, nil
}

func (s *Server) handleFileInfo(ctx context.Context, req *mcp.CallToolRequest, in FileInfoInput) (*mcp.CallToolResult, any, error) {
	result, err := s.dispatch(ctx, req, "file_info", map[string]any{"path": in.Path},
		func(ctx context.Context, r *middleware.Request) (any, error) {
			entry, err := s.files.Stat(ctx, in.Path)
			if err != nil {
				return nil, err
			}
			return entry, nil
		})
	if err != nil {
		return errorToMCP(err, s.logger), nil, nil
	}
	return dataToMCP(result, s.logger), nil, nil
}
