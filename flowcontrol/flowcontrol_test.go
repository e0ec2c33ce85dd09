package flowcontrol

import (
	"testing"
	"time"
)

func TestInitialChunkSizeTiers(t *testing.T) {
	tests := []struct {
		name     string
		fileSize uint64
		want     int
	}{
		{"small file", 1024, 64 * 1024},
		{"just under 10MiB", 10*1024*1024 - 1, 64 * 1024},
		{"mid tier", 50 * 1024 * 1024, 1024 * 1024},
		{"large tier", 200 * 1024 * 1024, 4 * 1024 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InitialChunkSize(tt.fileSize, Good); got != tt.want {
				t.Errorf("InitialChunkSize(%d, Good) = %d, want %d", tt.fileSize, got, tt.want)
			}
		})
	}
}

func TestInitialChunkSizeQualityScaling(t *testing.T) {
	poor := InitialChunkSize(50*1024*1024, Poor)
	good := InitialChunkSize(50*1024*1024, Good)
	excellent := InitialChunkSize(50*1024*1024, Excellent)

	if poor >= good {
		t.Errorf("Poor scale (%d) should be smaller than Good (%d)", poor, good)
	}
	if excellent <= good {
		t.Errorf("Excellent scale (%d) should be larger than Good (%d)", excellent, good)
	}
}

func TestInitialChunkSizeClamping(t *testing.T) {
	// Poor quality on the smallest tier must clamp up to MinChunkPayload.
	got := InitialChunkSize(0, Poor)
	if got < 64*1024 {
		t.Errorf("InitialChunkSize must clamp to >= 64KiB, got %d", got)
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		fileSize  uint64
		chunkSize int
		want      uint32
	}{
		{0, 1024, 0},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{1572864, 1048576, 2},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.fileSize, tt.chunkSize); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.fileSize, tt.chunkSize, got, tt.want)
		}
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	cfg := NewConfig(Config{})

	d0 := RetryDelay(cfg, 0)
	d1 := RetryDelay(cfg, 1)
	d2 := RetryDelay(cfg, 2)

	if d0 != cfg.InitialRetryDelay {
		t.Errorf("RetryDelay(0) = %v, want initial delay %v", d0, cfg.InitialRetryDelay)
	}
	if d1 != cfg.InitialRetryDelay*2 {
		t.Errorf("RetryDelay(1) = %v, want %v", d1, cfg.InitialRetryDelay*2)
	}
	if d2 != cfg.InitialRetryDelay*4 {
		t.Errorf("RetryDelay(2) = %v, want %v", d2, cfg.InitialRetryDelay*4)
	}
}

func TestRetryDelayCapsAtMax(t *testing.T) {
	cfg := NewConfig(Config{})
	d := RetryDelay(cfg, 20)
	if d != cfg.MaxRetryDelay {
		t.Errorf("RetryDelay(20) = %v, want capped at %v", d, cfg.MaxRetryDelay)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig(Config{})
	if cfg.WindowSize != 3 {
		t.Errorf("default WindowSize = %d, want 3", cfg.WindowSize)
	}
	if cfg.AckDeadline != 30*time.Second {
		t.Errorf("default AckDeadline = %v, want 30s", cfg.AckDeadline)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("default MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}

func TestNewConfigClampsWindowSize(t *testing.T) {
	cfg := NewConfig(Config{WindowSize: 1000})
	if cfg.WindowSize != 32 {
		t.Errorf("oversized WindowSize should clamp to 32, got %d", cfg.WindowSize)
	}
}
