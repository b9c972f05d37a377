// Package work holds the scheduler's domain model: requests submitted by
// callers, the persisted records that track their lifecycle, and the error
// kinds shared by the store, runner and scheduler packages.
package work
