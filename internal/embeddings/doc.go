// Package embeddings provides embedding generation via Ollama, plus a
// content-addressed cache keyed by SHA-256 so identical text is never
// embedded twice.
package embeddings
