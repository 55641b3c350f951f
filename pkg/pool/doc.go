// Package pool keeps a bounded set of pre-provisioned sandboxes warm
// so a benchmark run can start in milliseconds instead of paying the
// provider's cold-start cost. The Manager owns the idle set and its
// maintenance loop; a WarmSandbox is one sandbox on loan to exactly
// one caller at a time.
package pool
