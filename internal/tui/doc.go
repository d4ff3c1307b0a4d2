// Package tui provides the terminal dashboard shown by teamlead serve --tui.
//
// The dashboard is read-only. It subscribes to the supervisor's event hub and
// rebuilds its picture of the world from those events:
//   - Sessions with status, cost, token usage and task progress
//   - Teammates under each session and their current status
//   - Tool approvals and questions waiting for the operator
//   - Recently relayed teammate messages
//
// Approvals are answered through the HTTP API, not from the dashboard.
// Users can only scroll and quit with 'q' or Ctrl+C.
//
// Usage:
//
//	sub := hub.Subscribe(256)
//	defer sub.Close()
//	err := tui.Run(ctx, sub.C())
package tui
