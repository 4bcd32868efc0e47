// Package cron fires triggers on a recurring schedule.
//
// Cron entries are stored alongside runs and evaluated on a tick loop.
// Each due entry is fired under a per-entry lock, so several processes
// sharing a store fire an entry once per activation.
//
// # Entry
//
// An [Entry] is a recurring trigger:
//   - Name: the slot id the trigger targets
//   - Schedule: standard 5-field cron expression (e.g., "0 18 * * MON-FRI"),
//     a descriptor such as "@every 30s", optionally prefixed by CRON_TZ=
//   - Parameters: static JSON submitted with every run
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: lock fields (managed internally)
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, acquires the
// entry's lock, calls its [TriggerFunc] with the entry's NextRunAt as the
// fire time, and updates LastRunAt and NextRunAt. A failed trigger leaves
// NextRunAt unchanged so the activation is retried on the next tick;
// triggers are deduplicated by fire time downstream.
//
// When a process was down across several activations only the latest one
// fires: the slot's last firing is the only schedule state kept.
package cron
