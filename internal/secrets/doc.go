// Package secrets redacts credentials from text before it leaves the machine.
//
// Detection uses the Gitleaks default rule set. An optional TOML allowlist
// adds content patterns that are never treated as secrets.
package secrets
