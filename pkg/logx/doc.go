// Package logx configures castbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps console
// output readable (short timestamp + short caller) and file output
// JSON-structured. Sinks and levels can be swapped at runtime via
// Service.Apply, which the config hot-reload path uses.
package logx
