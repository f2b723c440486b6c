// Package config reads sightline.toml.
//
// Load starts from Default, decodes the file if one exists, expands "~" in
// paths, applies the SIGHTLINE_* environment fallbacks and then validates the
// result. A config returned by Load is ready to use without further checks.
package config
