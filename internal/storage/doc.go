// Package storage persists subscriptions and the latest fee snapshot.
//
// It supports:
//   - Subscription CRUD with a uniqueness guarantee per (platform, recipient, pair)
//   - One snapshot row per series key, replaced on every poll
package storage
