// Package subscription stores Web Push subscriptions in SQLite.
//
// The store is the only persistent state of the monitor; detection events
// themselves are never persisted.
package subscription
