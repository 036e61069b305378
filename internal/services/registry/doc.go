// Package registry hosts the gift-state coordination engine: the
// transactional store, reservation and contribution coordinators, and the
// per-wishlist fanout that keeps every connected viewer of a shared list in
// sync.
package registry
