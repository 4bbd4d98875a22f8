// Package rpc provides the HTTP/JSON API of the validator: round listings,
// aborts and reward claims, and dataset management for frontends and scripts.
package rpc
