// Package api serves read-only analyses over a harvested checkpoint.
// Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/stats, /api/trends, /api/cooccurrence, /api/pitfalls,
//     /api/solvability and /api/questions over the loaded dataset.
//   - POST /api/reload to re-read the checkpoint.
package api
