// Package dedup collapses concurrent identical safe requests into one
// network exchange. Waiters share the owning request's outcome via
// deep copies, canceled waiters dequeue themselves, and a canceled
// owner hands the signature over to the next live waiter instead of
// orphaning it.
package dedup
