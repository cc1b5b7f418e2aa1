// Package config handles discovery, parsing, and normalization of the
// lattice build-matrix configuration file (.lattice.yml and friends).
//
// Parsing is deliberately permissive about shape (string-or-list phases,
// list-or-sectioned env, plain-or-secure credentials) and strict about
// content: env rows and selectors are parsed eagerly so that malformed
// entries are reported with their config section and index.
//
// Structural validation beyond parsing (matrix subset rules, deploy
// trigger references) lives in internal/validate.
package config
