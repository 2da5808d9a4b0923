// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// CHATLINK_* environment variables override individual fields after the file is read.
package config
