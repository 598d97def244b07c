// Package main hosts the one-shot CZDS harvester.
//
// A run authenticates against the ICANN account API, lists the zone download
// links granted to the identity, probes each link with HEAD (bodies are never
// downloaded), folds the results into a single snapshot record and writes it
// once to the configured store.
//
// Layout:
//   - internal/auth, internal/links, internal/probe: the network stages, all
//     going through internal/httpclient (timeouts, bounded bodies, retry with
//     jittered exponential backoff, Prometheus transport instrumentation).
//   - internal/aggregate: pure fold of probe results into a snapshot.
//   - internal/loader + internal/storage: the single commit point, backed by
//     Postgres JSONB (default), a GCS object, or memory.
//   - internal/pipeline: the stage machine and the final Report.
//   - internal/api: optional /healthz, /status and /metrics while the run executes.
//
// Configuration comes from an optional .env file, an optional -config file and
// CZDS_* environment variables (CZDS_USERNAME, CZDS_PASSWORD,
// CZDS_STORE_CONNECTION, CZDS_HARVEST_MAX_LINKS, ...).
//
// Exit status is 0 when the run completes or finds nothing to load, 1 otherwise.
package main
