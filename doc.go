// Package lethe provides a content-discarding document index for Go.
//
// Lethe accepts text documents, converts them to dense vectors through a
// pluggable embedding gateway, and keeps only the vector plus a small
// metadata record (title, url, summary). The raw content never survives
// vectorization: it is embedded, written through, and dropped within the
// Add call. Search embeds the query, runs a nearest-neighbor lookup, and
// returns metadata-only results ordered by relevance.
//
//   - Pluggable embedding gateway: OpenAI (embedding/openai), local ONNX
//     models (embedding/onnx), or any in-process function (embedding.NewFunc)
//   - Pluggable index collaborator with a bundled exact cosine index
//     (index/flat); bring your own ANN index by implementing index.Index
//   - Concurrent readers, exclusive writers; embedding always runs outside
//     the write lock so slow providers never stall reads
//   - Streaming search over iter.Seq2 with O(1) memory in k
//   - Batch ingestion over a bounded worker pool with per-document errors
//   - Snapshots to any io.Writer, file, or blob store (local directory,
//     in-memory, S3, MinIO), self-describing and codec-framed
//   - Metadata in memory (default) or in SQLite (metadata.NewSQLiteTable)
//
// # Quick Start
//
// Create a store around an embedder and add documents:
//
//	ctx := context.Background()
//	emb, _ := openai.New(os.Getenv("OPENAI_API_KEY"))
//
//	store, err := lethe.New(emb)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Add(ctx, lethe.Document{
//	    ID:      "go-rwmutex",
//	    Content: readmeText, // embedded, then discarded
//	    Title:   "sync.RWMutex",
//	    URL:     "https://pkg.go.dev/sync#RWMutex",
//	    Summary: "Reader/writer mutual exclusion lock.",
//	})
//
// Search by relevance:
//
//	results, err := store.Search(ctx, "how do readers share a lock", 5)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Score, r.Title)
//	}
//
// Stream results one at a time without materializing the result set:
//
//	stream, err := store.SearchStream(ctx, "lock contention", 100)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for r, err := range stream {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if r.Score < 0.2 {
//	        break // early termination stops all remaining work
//	    }
//	    process(r)
//	}
//
// Or use the fluent builder:
//
//	first, err := store.Query("lock contention").K(10).MinScore(0.2).First(ctx)
//
// # Batch Ingestion
//
// AddBatch embeds documents in parallel on a fixed-size worker pool and
// reports failures per document; one bad document never aborts the batch:
//
//	result, err := store.AddBatch(ctx, docs)
//	for id, err := range result.Failed {
//	    log.Printf("%s: %v", id, err)
//	}
//
// # Snapshots
//
// The store state (metadata records plus the index's own serialization) can
// be saved and restored:
//
//	_ = store.SaveToFile(ctx, "index.lethe")
//	store, _ = lethe.LoadFromFile(ctx, "index.lethe", emb)
//
// or published to a blob store with a CURRENT pointer for discovery:
//
//	bs, _ := s3.New(ctx, "my-bucket")
//	name, _ := store.SaveToBlobStore(ctx, bs)
//	store, _ = lethe.LoadFromBlobStore(ctx, bs, emb)
package lethe
