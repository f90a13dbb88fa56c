// Package server drives a sketch workflow over the MCP (Model Context
// Protocol) stdio transport.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - sketch_status: workflow state, counter and last results
//   - sketch_capture: grab a camera frame
//   - sketch_read: load an image file
//   - sketch_process: detect and sketch the current frame
//   - sketch_save: write the sketch (and debug files)
//   - sketch_run: capture, process and save in one call
//
// Requests are handled strictly one after another, which is the only way a
// Workflow may be driven.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: the Go error string
//
// A process call that fails on the image or the detector is not an error:
// the previous results stay in place and the response carries the failure
// in its "error" field.
package server
