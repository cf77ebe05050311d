// Package config provides centralized configuration management for the
// swift runtime: the HTTP surface, the stream store, the event bus, the
// settlement worker and the optional chain bridge are all wired from a
// single JSON file with sensible defaults.
package config
