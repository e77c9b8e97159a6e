// Package store keeps the latest state of every dashboard panel and fans
// changes out to subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [PanelState]: Storage representation of one panel
//   - [Event]: One published change
//
// Subscribers receive events via channels with non-blocking sends (slow
// subscribers miss events rather than block the synchronizers).
package store
