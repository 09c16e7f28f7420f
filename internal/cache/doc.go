// Package cache holds the named response stores the agent serves from. A
// Storage owns a set of named Stores (for example "blog-cache-v1" and
// "blog-data-cache-v1"); each Store maps a request Descriptor to at most one
// immutable Snapshot. Backends exist for memory, plain files (temp file +
// rename) and sqlite. The Registry maps the logical partitions the dispatcher
// speaks about (static, data) to the physical store names of the current
// agent version, which is also the whitelist used when pruning old versions.
package cache
