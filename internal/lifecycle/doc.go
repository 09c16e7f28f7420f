// Package lifecycle owns the versioned agent workers: installing a version
// (precaching the static manifest), activating it (evicting caches that belong
// to other versions), and handing control of open pages to the active worker.
//
// A Registration keeps at most one active and one waiting worker. Clients
// tracks the pages the agent controls so that activation can claim them and
// notification clicks can focus or open a window.
package lifecycle
