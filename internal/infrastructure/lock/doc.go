// Package lock provides the named locks that serialize action queue passes:
// an in-process Local locker, and a Redis-backed locker for deployments
// running more than one FPF Core process against the same store.
package lock
