// Package registry is the client for npm-compatible registries.
//
// It issues one request at a time, paced by a ratelimit.Policy, and
// classifies every failure into the pkg/errors taxonomy: network errors,
// 429 and 5xx are transient, 404 is not-found, and malformed bodies or
// rejected credentials are fatal. Nothing is retried here; the callers
// decide, usually by aborting and resuming from a checkpoint.
package registry
