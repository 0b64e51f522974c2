package project

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/atomicfile"
)

// RuntimeChannel is one registered Python runtime channel entry (spec.md
// §3 "ToolEnv/Runtime channel registry", SPEC_FULL §4.9).
type RuntimeChannel struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
	OID      string `json:"oid"`
	ExePath  string `json:"exe_path"`
}

// RuntimeRegistry is the PX_RUNTIME_REGISTRY file's shape: a map of channel
// name ("3.11", "3.12", ...) to its registered entry.
type RuntimeRegistry struct {
	Channels map[string]RuntimeChannel `json:"channels"`
}

// LoadRuntimeRegistry reads path, returning an empty registry if it does
// not yet exist.
func LoadRuntimeRegistry(path string) (RuntimeRegistry, error) {
	reg := RuntimeRegistry{Channels: map[string]RuntimeChannel{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return reg, errors.Wrapf(err, "project: read runtime registry %s", path)
	}
	if err := json.Unmarshal(data, &reg); err != nil {
		return reg, errors.Wrapf(err, "project: parse runtime registry %s", path)
	}
	if reg.Channels == nil {
		reg.Channels = map[string]RuntimeChannel{}
	}
	return reg, nil
}

// Save writes reg atomically to path.
func (reg RuntimeRegistry) Save(path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "project: marshal runtime registry")
	}
	return atomicfile.Write(path, data, 0o644)
}

// ChannelNames returns the registry's channel names, sorted.
func (reg RuntimeRegistry) ChannelNames() []string {
	names := make([]string, 0, len(reg.Channels))
	for name := range reg.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds or overwrites a channel entry and returns the updated
// registry (callers persist it via Save).
func (reg RuntimeRegistry) Register(channel string, entry RuntimeChannel) RuntimeRegistry {
	next := RuntimeRegistry{Channels: make(map[string]RuntimeChannel, len(reg.Channels)+1)}
	for k, v := range reg.Channels {
		next.Channels[k] = v
	}
	next.Channels[channel] = entry
	return next
}
