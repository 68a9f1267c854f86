// Package cutpresence provides embedded assets for the cutpresence daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The config package writes this file to the data
// directory on first run so users have a commented starting point.
package cutpresence

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
