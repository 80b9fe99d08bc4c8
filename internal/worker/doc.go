// Package worker implements the relay's background delivery pipeline.
//
// Four jobs run on independent tickers under a Scheduler:
//
//   - Sender leases one activity per tick, calls its target, persists
//     the response together with the SENT transition, and attempts the
//     reply inline.
//   - Requeuer moves SENT_FAILED activities back to SCHEDULED so the
//     sender retries them.
//   - RetryReplier replays the persisted response for the earliest
//     REPLY_FAILED activity, and recovers activities stranded in SENT
//     by a crash mid-reply.
//   - Cleaner purges COMPLETED activities past the retention period.
//
// No worker holds in-memory queues; every tick reads its work from the
// store, so a restart resumes exactly where the database says things
// stand.
package worker
