package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func processProperties() map[string]interface{} {
	return map[string]interface{}{
		"threshold": map[string]interface{}{
			"type":        "number",
			"description": "Score cutoff (0.0-1.0). Ignored for the sketch when top_x is set. Default from configuration",
		},
		"top_x": map[string]interface{}{
			"type":        "integer",
			"description": "Keep only the top X detections; ties at the cutoff are all kept. 0 disables",
		},
		"debug": map[string]interface{}{
			"type":        "boolean",
			"description": "Log the leading detections and stage timings",
		},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	process := processProperties()
	process["path"] = map[string]interface{}{
		"type":        "string",
		"description": "Optional image file to read first. Without it the current frame is processed",
	}

	return []Tool{
		{
			Name:        "sketch_status",
			Description: "Report the workflow state, frame counter, output directory and the results of the last process call.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "sketch_capture",
			Description: "Capture one frame from the configured camera and make it the current frame.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "sketch_read",
			Description: "Load an image file and make it the current frame.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "sketch_process",
			Description: "Detect objects in the current frame and draw them as a sketch. A failure keeps the previous results and is reported in the response.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": process,
			},
		},
		{
			Name:        "sketch_save",
			Description: "Write the current sketch to the output directory. Debug also writes the labels, raw scores and annotated image.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{
						"type":        "string",
						"description": "File stem. Empty uses frame<counter> and advances the counter",
					},
					"debug": map[string]interface{}{
						"type":        "boolean",
						"description": "Also write the debug files",
					},
				},
			},
		},
		{
			Name:        "sketch_run",
			Description: "Capture, process and save one frame under the next counter based name.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": processProperties(),
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
