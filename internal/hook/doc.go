// Package hook defines the hook record, its advisory lock fields, the node
// lifecycle events hooks react to, and the node identity payload handed to
// hook scripts.
//
// A hook is locked while one of its scripts runs. The lock is three columns on
// the hook row (lock time, locking node, locking event) that are always set or
// cleared together; see package lock for the protocol that maintains them.
package hook
