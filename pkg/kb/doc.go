// Package kb is the embeddable Go client for the kbengine knowledge store.
//
// The client runs the vector retrieval engine in-process against one of three
// backends: an in-memory map, a Valkey index (FT.SEARCH KNN) or a Vertex AI
// Vector Search deployment.
//
// # Low-level API: documents and vectors
//
//	client, _ := kb.New(ctx, kb.WithDimensions(3))
//	_ = client.Upsert(ctx, kb.Document{
//	    ID:        "faq-1",
//	    Embedding: []float32{0.1, 0.2, 0.3},
//	    Content:   "Adoption takes about two weeks.",
//	    Metadata:  kb.Metadata{Category: "adoption", Audience: []string{"adopter"}},
//	})
//	hits, _ := client.Search([]float32{0.1, 0.2, 0.3}).
//	    Audience("adopter").TopK(3).Do(ctx)
//
// # High-level API: knowledge items and assistant retrieval
//
//	client, _ := kb.New(ctx,
//	    kb.WithValkey("localhost:6379", ""),
//	    kb.WithEmbedder(myEmbedder),
//	)
//	summary, _ := client.Ingest(ctx, items)
//	snippets := client.Retrieve(ctx, kb.RetrieveRequest{
//	    Text:     "how do I crate train a puppy?",
//	    Audience: []string{"adopter"},
//	})
//	prompt := kb.FormatContext(snippets)
package kb
