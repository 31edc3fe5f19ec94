package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewMergeMCPServer creates an MCP server with the merge tools registered:
// merge_impulses, get_merge_status and reconcile_metadata.
func NewMergeMCPServer(svc *MergeService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "impulsemerge",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "merge_impulses",
		Description: "Merge already extracted Edge Impulse C++ libraries into one library that runs all impulses side by side. Returns the merged tree, deploy.zip and any warnings.",
	}, svc.MergeImpulses)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_merge_status",
		Description: "Inspect the output directory of a merge run: merged impulses and their deploy versions, reconciled configuration, archive and report.",
	}, svc.GetMergeStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reconcile_metadata",
		Description: "Merge two model_metadata.h files with the configuration merge policies. Fails on firmware SDK version or post-processing type conflicts.",
	}, svc.ReconcileMetadata)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP server over streamable HTTP on addr.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
