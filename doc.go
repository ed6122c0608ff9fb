// Package academick ingests PDF textbooks into a searchable chunk corpus and
// ranks that corpus for student questions.
//
// The root package holds the domain types and the contracts every component
// implements:
//
//   - [ChunkRecord], [Job] and its [JobState] variants, [SearchCandidate]
//   - [Provider] (chat LLM), [Embedder] (dense + sparse), [IntentClassifier]
//   - [ChunkStore] and [JobStore] (durable persistence)
//   - [HybridSearchEngine]: dense prefilter, sparse rerank, intent-weighted
//     fusion and a multi-query union that keeps the best score per chunk
//
// Ingestion lives in the ingest package, the job worker pool in jobs, and
// store implementations under store/.
package academick
