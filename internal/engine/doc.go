// Package engine runs benchmarks asynchronously. It resolves the device via
// the backend registry, wires the dataset, slot pool, scenario and load
// generator together, bounds each run with a context deadline and records
// progress and results in the store as the run proceeds.
package engine
