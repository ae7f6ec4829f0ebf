// Package queue is the action queue: the admission log through which every
// triggered intent reaches hardware.
//
// Entries move pending -> running -> ended. A processing pass walks the
// pending entries oldest first and admits each one only when:
//
//   - it is the oldest unfinished manual entry of its hardware unit (manual
//     entries only)
//   - no other entry of the same hardware unit is running
//   - no older pending entry of the same hardware unit was held back in
//     this pass
//
// Entries of inactive actions end as skipped without running. Admitted
// entries run their action script and always end, as succeeded or failed.
//
// Two partial unique indexes back the rules in the store: one unfinished
// entry per trigger and one running entry per hardware unit.
package queue
