// Package server implements the agentbox admin HTTP API.
//
// Read-only routes expose the deployment store, the health monitor and the
// operation history. Mutating routes are mounted only when an admin token is
// configured, and the push webhook only when a webhook secret is.
//
// Every request passes through the access guard first: addresses outside
// the allow-list get 403 and clients over the rate limit get 429.
package server
