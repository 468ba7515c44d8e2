// Package coordination provides a small client for coordination services
// (ZooKeeper, etcd and Tarantool config storage) behind a uniform interface.
//
// The client covers node creation, reads and writes, existence checks,
// deletion and child-change watching. Child changes are delivered to
// listeners as [ChangeEvent] values by a single delivery goroutine per
// client, so listener calls never overlap.
//
// See the [github.com/tarantool/go-coordination/driver] package for the
// backend interface and its implementations.
package coordination
