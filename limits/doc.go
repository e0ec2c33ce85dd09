// Package limits documents and centralizes the size ceilings referenced
// throughout the core: frame size, chunk payload bounds, file size, window
// size, and session caps.
//
// # Hierarchy
//
// MinChunkPayload/MaxChunkPayload bound what the Flow Controller (§4.5) may
// choose as a chunk size; MaxFrameSize bounds the codec's decoded frame
// length and must exceed MaxChunkPayload plus header overhead.
// DefaultMaxFileSize, DefaultGlobalSessionCap, and DefaultPerPeerSessionCap
// are admission-control defaults the Receiver Engine and Session Registry
// apply unless overridden by configuration.
//
// # Usage
//
//	if err := limits.CheckFileSize(req.FileSize, cfg.MaxFileSize); err != nil {
//	    return reject(413)
//	}
package limits
