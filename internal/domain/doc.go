// Package domain holds the core types and port interfaces of paperboy:
// newsletter issues, subscribers, the idempotency guard contract, and the
// durable delivery queue consumed by the worker. Adapters (postgres, email)
// implement these interfaces; the app layer orchestrates them.
package domain
