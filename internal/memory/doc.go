// Package memory configures GOMEMLIMIT from container limits and provides a
// backpressure monitor that pauses import workers under heap pressure. Image
// decoding and hashing allocate in bursts; the monitor keeps those bursts
// from tripping the container OOM killer.
package memory
