// Package queue holds pending paragraph generation jobs for the worker pool.
// Jobs are served nearest-first relative to the paragraph being read, so the
// active paragraph is always generated before its successors.
package queue
