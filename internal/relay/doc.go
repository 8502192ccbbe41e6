// Package relay is the poll → filter → resolve → format → fan-out pipeline.
//
// One Poller runs one cycle at a time. Per cycle it snapshots the bound
// destinations, fetches bounded windows of recent posts and comments, keeps
// allowlisted authors it has not relayed yet, and for each such item:
// resolves reply context (comments), formats, dispatches, marks seen.
package relay
