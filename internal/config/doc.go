// Package config loads application configuration from an optional YAML file
// and environment variables (environment wins), validates the data and cache
// directories, and logs the startup banner and system information. It also
// carries the build-time version variables.
package config
