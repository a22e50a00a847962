// Package store keeps the admin dashboard's state and pushes changes to
// connected clients.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Row]: One challenge line of the dashboard
//   - [Event]: A change pushed to subscribers
//
// Besides rows, the store holds the two aggregate views refreshed on their
// own timers: the deployment error list and the per-team deployment list.
//
// Subscribers receive events via buffered channels with non-blocking sends;
// a slow subscriber misses events rather than blocking pollers.
package store
