// Package resourcemon samples a child process's RSS, CPU percent, and open
// handle count on a short interval. It backs both the Supervisor's
// soft/hard resource limit ladder (spec §4.13) and the Sandbox's
// behavioural scan (spec §4.12) — the original_source's per-child sampling
// detail, supplemented into a shared helper rather than duplicated.
package resourcemon
