package out

import "context"

// CreationLock serializes label creation per key (user + normalized name).
type CreationLock interface {
	// Lock blocks until the key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
