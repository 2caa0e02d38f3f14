package workspace

import (
	"context"
	"encoding/json"

	"github.com/parvum/devlink/internal/dispatch"
	"github.com/parvum/devlink/internal/protocol"
)

// RegisterHandlers wires the workspace commands into a dispatcher. The
// workspace-scoped commands go through RegisterWorkspaceCommand so the
// open-and-trusted precondition is checked centrally.
func RegisterHandlers(d *dispatch.Dispatcher, p Provider) {
	d.RegisterWorkspaceCommand(protocol.CmdSearchWorkspace, searchHandler(p))
	d.RegisterWorkspaceCommand(protocol.CmdGetFileTree, fileTreeHandler(p))
	d.RegisterWorkspaceCommand(protocol.CmdGetFileContent, fileContentHandler(p))
	d.RegisterWorkspaceCommand(protocol.CmdGetDiagnostics, diagnosticsHandler(p))
	d.Register(protocol.CmdPing, pingHandler())
}

func searchHandler(p Provider) dispatch.Handler {
	return func(ctx context.Context, payload json.RawMessage, client *dispatch.ClientContext) (any, error) {
		var req protocol.SearchPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidMessageFormat, "invalid search payload")
		}
		hits, err := p.Search(ctx, req.Query, req.MaxResults)
		if err != nil {
			return nil, err
		}
		return protocol.SearchResult{Results: hits}, nil
	}
}

func fileTreeHandler(p Provider) dispatch.Handler {
	return func(ctx context.Context, payload json.RawMessage, client *dispatch.ClientContext) (any, error) {
		files, err := p.FileTree(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.FileTreeResult{Files: files}, nil
	}
}

func fileContentHandler(p Provider) dispatch.Handler {
	return func(ctx context.Context, payload json.RawMessage, client *dispatch.ClientContext) (any, error) {
		var req protocol.FileContentPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidMessageFormat, "invalid file content payload")
		}
		return p.FileContent(ctx, req.Path)
	}
}

func diagnosticsHandler(p Provider) dispatch.Handler {
	return func(ctx context.Context, payload json.RawMessage, client *dispatch.ClientContext) (any, error) {
		var req protocol.DiagnosticsPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, protocol.NewError(protocol.KindInvalidMessageFormat, "invalid diagnostics payload")
			}
		}
		diags, err := p.Diagnostics(ctx, req.Severity)
		if err != nil {
			return nil, err
		}
		return protocol.DiagnosticsResult{Diagnostics: diags}, nil
	}
}

func pingHandler() dispatch.Handler {
	return func(ctx context.Context, payload json.RawMessage, client *dispatch.ClientContext) (any, error) {
		return protocol.OKData{OK: true}, nil
	}
}
