// Package hamonitor implements the high-availability consistency check:
// verifying that all database replicas of the cluster have converged on the
// same configuration state.
package hamonitor
