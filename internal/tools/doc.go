// Package tools implements the security-checked operations the server
// exposes: whitelisted file access and SSRF-safe URL fetching. Every
// operation validates through internal/security before touching the
// filesystem or the network, and both accessors are safe for
// concurrent use.
package tools
