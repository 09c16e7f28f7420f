// Package proxy turns intercepted Fiber requests into caching events, hands
// them to the worker that controls the requesting page, and streams the
// chosen response back to the browser.
package proxy
