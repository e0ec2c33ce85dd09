// Package config loads the peripheral TOML configuration for the
// cmd/p2pconvert front door — the core engines themselves take a
// flowcontrol.Config value and never read files directly (§1's scoping
// of config loading to the CLI, outside the core).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/opd-ai/p2pconvert/flowcontrol"
)

// File is the on-disk shape of a p2pconvert config file.
type File struct {
	WindowSize          int           `toml:"window_size"`
	MaxChunkSizeBytes   uint32        `toml:"max_chunk_size_bytes"`
	MaxFileSizeBytes    uint64        `toml:"max_file_size_bytes"`
	AckDeadline         time.Duration `toml:"ack_deadline"`
	OverallDeadline     time.Duration `toml:"overall_deadline"`
	GlobalSessionCap    int           `toml:"global_session_cap"`
	PerPeerSessionCap   int           `toml:"per_peer_session_cap"`
	NetworkQuality      string        `toml:"network_quality"`
	OutputDir           string        `toml:"output_dir"`
	AcceptedSourceTypes []string      `toml:"accepted_source_types"`
	LogLevel            string        `toml:"log_level"`
}

// Load reads and parses a TOML config file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// FlowControl converts the loaded file into a flowcontrol.Config, leaving
// unset (zero) fields for flowcontrol.NewConfig to default.
func (f *File) FlowControl() flowcontrol.Config {
	return flowcontrol.NewConfig(flowcontrol.Config{
		WindowSize:        f.WindowSize,
		MaxChunkSize:      f.MaxChunkSizeBytes,
		MaxFileSize:       f.MaxFileSizeBytes,
		AckDeadline:       f.AckDeadline,
		OverallDeadline:   f.OverallDeadline,
		GlobalSessionCap:  f.GlobalSessionCap,
		PerPeerSessionCap: f.PerPeerSessionCap,
		NetworkQuality:    parseQuality(f.NetworkQuality),
	})
}

func parseQuality(s string) flowcontrol.NetworkQuality {
	switch s {
	case "Poor":
		return flowcontrol.Poor
	case "Excellent":
		return flowcontrol.Excellent
	default:
		return flowcontrol.Good
	}
}
