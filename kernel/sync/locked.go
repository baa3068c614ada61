package sync

// Guard provides access to a value protected by a Locked[T] wrapper. The
// protecting spinlock is held for as long as the Guard is alive; callers
// must call Release once they are done with the value. Guard never exposes
// the raw *Spinlock so that callers cannot release it out of order.
type Guard[T any] struct {
	locked *Locked[T]
}

// Value returns a pointer to the protected value. The pointer is only valid
// while the guard has not been released.
func (g Guard[T]) Value() *T {
	return &g.locked.value
}

// Release relinquishes the lock acquired by Lock. Calling Release more than
// once has the same effect as calling Spinlock.Release twice: harmless, but
// it will allow an unrelated Lock call to proceed early.
func (g Guard[T]) Release() {
	g.locked.lock.Release()
}

// Locked wraps a value of type T with a Spinlock, ensuring that the value can
// only be reached through a Guard obtained via Lock. It is the building
// block used for every allocator's shared, mutable state (the frame bitmap,
// the buddy free lists, the slab caches, ...).
type Locked[T any] struct {
	lock  Spinlock
	value T
}

// NewLocked wraps value in a Locked[T].
func NewLocked[T any](value T) Locked[T] {
	return Locked[T]{value: value}
}

// Lock acquires the spinlock and returns a Guard granting access to the
// protected value. The caller must call Guard.Release when done.
func (l *Locked[T]) Lock() Guard[T] {
	l.lock.Acquire()
	return Guard[T]{locked: l}
}

// TryLock attempts to acquire the spinlock without blocking. It returns the
// Guard and true on success, or a zero Guard and false if the lock is
// currently held.
func (l *Locked[T]) TryLock() (Guard[T], bool) {
	if !l.lock.TryToAcquire() {
		return Guard[T]{}, false
	}
	return Guard[T]{locked: l}, true
}
