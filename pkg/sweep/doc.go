// Package sweep runs a background expiration sweeper over a dynamic set
// of storage.Operators, proactively evicting expired entries on an
// interval. It is a performance optimization layered on top of — never
// a replacement for — the mandatory opportunistic deletion-on-read every
// storage.Operator already performs. Adapted from the teacher's
// pkg/reconciler drift-reconciliation loop: a ticker, a stopCh, and one
// timed cycle per tick.
package sweep
