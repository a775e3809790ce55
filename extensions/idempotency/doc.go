// Package idempotency provides per-order mutual exclusion for settlement.
//
// # Overview
//
// Two settlement calls for the same order must not both observe "needs
// payment" and both mark the order paid. The settler acquires a guard keyed
// by the order id before the needs-payment check and releases it after the
// paid write. Guards are scoped per key, so settlements for different orders
// never wait on each other.
//
// # Usage
//
// Single instance, in-memory:
//
//	guard := idempotency.NewInMemoryGuard()
//	settler := evmpay.NewSettler(store, guard, nonces)
//
// Several instances behind a load balancer, Redis:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	guard := idempotency.NewRedisGuard(rdb,
//	    idempotency.WithTTL(30*time.Second),
//	)
//
// # How It Works
//
// InMemoryGuard keeps one done channel per held key. A second caller for the
// same key blocks on that channel (or its context) and retries once it is
// closed.
//
// RedisGuard stores a random token under the key with SET NX PX. Release
// deletes the key only if it still holds the caller's token, so a holder
// whose lease expired cannot free someone else's lease.
package idempotency
