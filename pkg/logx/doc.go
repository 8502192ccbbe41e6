// Package logx wraps zerolog with a value-type Logger and a Service that can
// swap outputs at runtime.
//
// Console output is human readable, file output is JSON, and an optional chat
// sink forwards warnings to a Telegram chat. The chat sink is rate limited and
// collapses lines that repeat within a minute into a single count.
package logx
