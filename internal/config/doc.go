// Package config loads rrsched configuration from JSON or YAML and watches
// the file for changes.
package config
