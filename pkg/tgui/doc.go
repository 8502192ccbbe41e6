// Package tgui provides small Telegram HTML helpers:
//   - escaping and tag helpers that return already-safe HTML (H)
//   - rune-exact truncation for excerpts
//   - a message builder with ParseMode=HTML and previews disabled by default
package tgui
