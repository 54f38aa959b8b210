// Package config provides centralized configuration management for the
// ChainPilot daemon. The process configuration is a single JSON document;
// the safety policy and chain definitions live in separate YAML files that
// operations can review and change independently of deployment settings.
package config
