package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ironsheep/sketchcam/internal/workflow"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "sketch_read", "sketch_save").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.WithError(err).WithField("tool", params.Name).Warn("tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "sketch_status":
		return s.handleStatus(), nil
	case "sketch_capture":
		return s.handleCapture(ctx)
	case "sketch_read":
		return s.handleRead(args)
	case "sketch_process":
		return s.handleProcess(ctx, args)
	case "sketch_save":
		return s.handleSave(args)
	case "sketch_run":
		return s.handleRun(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs tolerates a missing arguments object.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// StatusResult describes the workflow.
type StatusResult struct {
	State       string    `json:"state"`
	Counter     int       `json:"counter"`
	OutputDir   string    `json:"output_dir"`
	CurrentPath string    `json:"current_path,omitempty"`
	Threshold   float64   `json:"threshold"`
	Labels      []string  `json:"labels"`
	Scores      []float64 `json:"scores"`
	LastError   string    `json:"last_error,omitempty"`

	// Frame is the current frame, if any.
	Frame *FrameResult `json:"frame,omitempty"`

	// Timings are the stage durations of the last successful process call.
	Timings TimingsResult `json:"timings"`
}

// TimingsResult reports stage durations in milliseconds.
type TimingsResult struct {
	Scale    float64 `json:"scale_ms"`
	Detect   float64 `json:"detect_ms"`
	Annotate float64 `json:"annotate_ms"`
	Draw     float64 `json:"draw_ms"`
	Total    float64 `json:"total_ms"`
}

func newTimingsResult(t workflow.Timings) TimingsResult {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return TimingsResult{
		Scale:    ms(t.Scale),
		Detect:   ms(t.Detect),
		Annotate: ms(t.Annotate),
		Draw:     ms(t.Draw),
		Total:    ms(t.Total),
	}
}

func (s *Server) handleStatus() *StatusResult {
	res := &StatusResult{
		State:       s.wf.State().String(),
		Counter:     s.wf.Counter(),
		OutputDir:   s.wf.OutputDir(),
		CurrentPath: s.wf.CurrentPath(),
		Threshold:   s.wf.Threshold(),
		Labels:      s.wf.Labels(),
		Scores:      s.wf.Scores(),
		Timings:     newTimingsResult(s.wf.Timings()),
	}
	if frame := s.wf.Frame(); frame != nil {
		b := frame.Bounds()
		res.Frame = &FrameResult{Path: s.wf.CurrentPath(), Width: b.Dx(), Height: b.Dy()}
	}
	if err := s.wf.LastError(); err != nil {
		res.LastError = err.Error()
	}
	return res
}

// FrameResult describes the current frame.
type FrameResult struct {
	Path   string `json:"path,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (s *Server) handleCapture(ctx context.Context) (interface{}, error) {
	img, err := s.wf.Capture(ctx)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &FrameResult{Width: b.Dx(), Height: b.Dy()}, nil
}

type readArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleRead(args json.RawMessage) (interface{}, error) {
	var a readArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	img, err := s.wf.Read(a.Path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &FrameResult{Path: a.Path, Width: b.Dx(), Height: b.Dy()}, nil
}

type processArgs struct {
	Path      string   `json:"path"`
	Threshold *float64 `json:"threshold"`
	TopX      *int     `json:"top_x"`
	Debug     *bool    `json:"debug"`
}

// options fills unset arguments from the server defaults.
func (a processArgs) options(defaults workflow.ProcessOptions) (workflow.ProcessOptions, error) {
	opts := defaults
	if a.Threshold != nil {
		if *a.Threshold < 0 || *a.Threshold > 1 {
			return opts, fmt.Errorf("threshold must be in [0,1], got %v", *a.Threshold)
		}
		opts.Threshold = *a.Threshold
	}
	if a.TopX != nil {
		if *a.TopX < 0 {
			return opts, fmt.Errorf("top_x must be >= 0, got %d", *a.TopX)
		}
		opts.TopX = *a.TopX
	}
	if a.Debug != nil {
		opts.Debug = *a.Debug
	}
	return opts, nil
}

// ProcessResult reports the outcome of a process call. Error is set when
// the call failed and the previous results were kept.
type ProcessResult struct {
	Detections int      `json:"detections"`
	Threshold  float64  `json:"threshold"`
	Labels     []string `json:"labels"`
	Error      string   `json:"error,omitempty"`
}

func (s *Server) handleProcess(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a processArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	opts, err := a.options(s.defaults)
	if err != nil {
		return nil, err
	}

	if a.Path != "" {
		if _, err := s.wf.Read(a.Path); err != nil {
			return nil, err
		}
	}
	if err := s.wf.Process(ctx, nil, opts); err != nil {
		return nil, err
	}

	res := &ProcessResult{
		Detections: s.wf.Detections().Len(),
		Threshold:  s.wf.Threshold(),
		Labels:     s.wf.Labels(),
	}
	if err := s.wf.LastError(); err != nil {
		res.Error = err.Error()
	}
	return res, nil
}

type saveArgs struct {
	Name  string `json:"name"`
	Debug *bool  `json:"debug"`
}

func (s *Server) handleSave(args json.RawMessage) (interface{}, error) {
	var a saveArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	debug := s.defaults.Debug
	if a.Debug != nil {
		debug = *a.Debug
	}
	return s.wf.SaveResults(a.Name, debug)
}

func (s *Server) handleRun(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a processArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	opts, err := a.options(s.defaults)
	if err != nil {
		return nil, err
	}
	return s.wf.Run(ctx, opts)
}
