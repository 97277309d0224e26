// Package scoring provides abeval.Scorer implementations.
//
// EvidenceScorer reads precomputed per-variant outcomes from the evidence
// bundle and is used when an upstream system has already scored the run.
// HTTPScorer delegates to an external scoring service over HTTP:
//
//	POST <url>
//	{"variant": {...}, "evidence": {...}}
//
// The service answers with a VariantEvaluationResult JSON object. Server
// errors and transport failures are retried with exponential backoff;
// client errors are not.
package scoring
