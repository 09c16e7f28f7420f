// Package server hosts the Fiber HTTP service that stands between the browser
// and the blog origin. It owns the request-id middleware, splits agent
// management paths (/-/) from intercepted traffic, and provides the shared
// upstream HTTP client plus the network Fetcher used by the caching strategies.
// Handlers are injected so the interception logic and the management routes
// can be tested without a live origin.
package server
