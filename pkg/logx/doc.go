// Package logx configures rrsched's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Hot paths (per-quantum warnings) rate limited via Limited()
package logx
