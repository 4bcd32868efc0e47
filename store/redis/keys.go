package redis

// Redis key naming conventions. All keys are prefixed with "jobpoller:".

const keyPrefix = "jobpoller:"

// ── Run keys ──

// runKey returns the Hash key for a run: jobpoller:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runSeqKey is the counter that orders runs by creation.
const runSeqKey = keyPrefix + "run_seq"

// runsIndexKey is the Sorted Set of all run IDs scored by creation order.
const runsIndexKey = keyPrefix + "runs"

// slotRunsKey returns the Sorted Set of a slot's run IDs scored by
// creation order: jobpoller:slot:{slot}:runs
func slotRunsKey(slot string) string { return keyPrefix + "slot:" + slot + ":runs" }

// activeSlotKey holds the ID of the slot's non-terminal run, if any:
// jobpoller:slot:{slot}:active
func activeSlotKey(slot string) string { return keyPrefix + "slot:" + slot + ":active" }

// ── Event keys ──

// eventStreamKey returns the Stream holding a run's event log:
// jobpoller:events:{runID}
func eventStreamKey(runID string) string { return keyPrefix + "events:" + runID }

// ── Cron keys ──

// cronKey returns the key for a cron entry entity: jobpoller:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"
