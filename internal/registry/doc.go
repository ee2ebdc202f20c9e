// Package registry holds the in-memory map from one-time download tokens to
// staged files, enforcing the single-use token policy and running the
// background reaper that evicts unclaimed files after their TTL.
package registry
