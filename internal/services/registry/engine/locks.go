package engine

import "sync"

// wishlistLocks hands out one mutex per wishlist. The coordinator and the
// ledger hold the wishlist's mutex across transaction commit and hub publish
// so publish order always equals commit order. Unrelated wishlists never
// contend.
type wishlistLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newWishlistLocks() *wishlistLocks {
	return &wishlistLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *wishlistLocks) lock(wishlistID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[wishlistID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[wishlistID] = lock
	}
	return lock
}
