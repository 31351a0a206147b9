// Package store defines the key-value persistence port used for auth
// secrets and cache entries, with an in-memory implementation and a
// namespacing wrapper so one backing store can serve both without key
// clashes.
package store
