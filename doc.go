// Package datavault provides a side-channel cache for large LLM tool
// responses.
//
// When a tool call returns bulk data, the pipeline stores the rows in a
// TTL-governed vault backed by Redis and hands the LLM a compact metadata
// envelope instead: schema, row count, a few sample rows, per-column
// statistics, and an access handle. The LLM can then aggregate the stored
// data with SQL through an embedded engine, or a UI can fetch it whole
// over the retrieval API.
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/contextd/datavault/cmd/datavault@latest
//
// Point it at Redis and start it:
//
//	REDIS_URL=redis://localhost:6379 datavault serve
//
// # Using as Go Library
//
// Import the packages you need:
//
//	import "github.com/contextd/datavault/pkg/vault"       // handle store
//	import "github.com/contextd/datavault/pkg/pipeline"    // offload pipeline
//	import "github.com/contextd/datavault/pkg/queryengine" // SQL over handles
//
// A minimal offload flow:
//
//	backend, _ := vault.NewRedisBackend(ctx, "redis://localhost:6379")
//	store := vault.New(backend, vault.Options{}, nil)
//	p := pipeline.New(store, agent, nil, nil)
//	out, err := p.Process(ctx, pipeline.ToolResponse{
//		ToolName: "sales_report",
//		OwnerID:  "did:user:1",
//		Raw:      toolOutput,
//	})
//
// Entries expire after 30 minutes; the first retrieval shrinks the
// remaining lifetime to a 5 minute grace window.
package datavault
