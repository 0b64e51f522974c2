package lockfile

import (
	toml "github.com/pelletier/go-toml/v2"
)

// Marshal encodes v as TOML, used for px.lock / px.workspace.lock.
func Marshal(v any) ([]byte, error) { return toml.Marshal(v) }

// Unmarshal decodes TOML bytes into v.
func Unmarshal(data []byte, v any) error { return toml.Unmarshal(data, v) }
