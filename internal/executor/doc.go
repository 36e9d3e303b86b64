// Package executor dispatches the commands produced by one device state
// transition.
//
// Commands run on two lanes:
//
//   - Salvo (default): every salvo command of a batch starts together and
//     runs in parallel. A batch's salvo phase waits only for the previous
//     batch's salvo phase.
//   - Sequential: commands sharing a QueueID run one at a time in order.
//     A batch's sequential phase for a queue waits for the same batch's
//     salvo phase and for the previous batch's phase on that queue.
//     Different queues proceed independently.
//
// Each command may carry a Preliminary lead time. The largest lead time in
// a batch is the batch's reference; a command with a smaller lead time is
// delayed by the difference so every command lands on its own schedule.
//
// A failed send is reported through the result callback. It never blocks
// sibling commands or later batches.
//
// The executor knows nothing about timelines or devices: it consumes
// opaque commands and a send function.
package executor
