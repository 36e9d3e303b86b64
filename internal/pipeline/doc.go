// Package pipeline owns one device's queue of future states and turns them
// into dispatched commands exactly once each, in time order.
//
// # Flow
//
//	HandleState ──▶ convert ──▶ queue (time-ordered, no duplicate times)
//	                                │
//	            tick / HandleState  ▼
//	                     diff(baseline, head) ──▶ commands (cached on head)
//	                                │ due?
//	                                ▼
//	                     execute: dequeue, clear baseline, executor,
//	                              install head as baseline, catch up
//
// A head entry is due once its time minus the largest command lead time
// has passed. While an execution is in flight the baseline is cleared, so
// nothing diffs against a state that is about to be replaced.
//
// Convert and diff failures, including panics, are reported and never
// stall the pipeline: a failed diff is treated as an empty command set.
package pipeline
