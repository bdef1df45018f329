package store

import "sync"

// lockSet holds one mutex per deployment so multi-step operations on a
// deployment can serialize without blocking unrelated deployments.
//
// The outer mutex protects only the map; callers never hold it while
// waiting on a per-deployment mutex.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[string]*sync.Mutex)}
}

// add registers a lock for id if none exists yet.
func (ls *lockSet) add(id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, ok := ls.locks[id]; !ok {
		ls.locks[id] = &sync.Mutex{}
	}
}

// remove forgets the lock for id. A goroutine already holding it keeps a
// valid mutex; it simply is no longer handed out.
func (ls *lockSet) remove(id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.locks, id)
}

func (ls *lockSet) get(id string) *sync.Mutex {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.locks[id]
}

// tryLock acquires the lock for id without blocking. It returns false when
// the deployment is unknown or another caller holds the lock.
func (ls *lockSet) tryLock(id string) bool {
	lock := ls.get(id)
	if lock == nil {
		return false
	}
	return lock.TryLock()
}

// unlock releases the lock for id. Unknown ids are a no-op.
func (ls *lockSet) unlock(id string) {
	if lock := ls.get(id); lock != nil {
		lock.Unlock()
	}
}
