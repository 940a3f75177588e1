// Package config loads the manager configuration from YAML with environment
// overrides (prefix ROOKERY, dots become underscores) and converts it into the
// configuration of each component.
package config
