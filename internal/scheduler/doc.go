// Package scheduler tracks analysis tasks from submission to completion.
//
// A Scheduler owns every Task and Batch for the lifetime of the process. A
// single polling loop admits pending tasks up to the concurrency limit,
// submits them to the Backend, polls in-flight jobs, and applies the bounded
// retry policy. CancelTask and RetryTask mutate state directly; results of
// network calls that raced with such a mutation are discarded by the loop.
//
// State is persisted to the durable store after every mutation and restored
// on construction, so a restart resumes polling jobs that already have a
// backend job id.
package scheduler
