// Package backend defines the common interface that all inference devices
// (the simulated multi-stream device, remote KServe v2 servers) must implement,
// along with the registry that resolves a device name to its backend.
package backend
