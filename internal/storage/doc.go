// Package storage persists run history: one Run summary per run and the
// Spans during which each worker held the CPU.
//
// History is an observability record for charts and audits. It is never read
// back to resume a run.
package storage
