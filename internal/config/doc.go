// Package config loads the SpriteForge JSON configuration. Relative paths are
// resolved against the directory of the config file and every section falls
// back to defaults suitable for local development.
package config
