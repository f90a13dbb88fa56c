package detection

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Label describes one class of a detector.
type Label struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// LabelMap maps class ids to labels.
type LabelMap map[int]Label

// Name returns the display name of class id, falling back to the raw name
// and finally to "class <id>" for ids the map does not know.
func (m LabelMap) Name(id int) string {
	if l, ok := m[id]; ok {
		if l.DisplayName != "" {
			return l.DisplayName
		}
		if l.Name != "" {
			return l.Name
		}
	}
	return fmt.Sprintf("class %d", id)
}

// LoadLabelMap reads a label map file in the TensorFlow object detection
// text format.
func LoadLabelMap(path string) (LabelMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label map: %w", err)
	}
	defer f.Close()

	m, err := ParseLabelMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseLabelMap parses the text format used by mscoco_label_map.pbtxt:
//
//	item {
//	  name: "/m/01g317"
//	  id: 1
//	  display_name: "person"
//	}
//
// Unknown keys inside an item are ignored. Every item must carry an id.
func ParseLabelMap(r io.Reader) (LabelMap, error) {
	m := make(LabelMap)
	scanner := bufio.NewScanner(r)

	var (
		cur    *Label
		hasID  bool
		lineNo int
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "item"):
			if cur != nil {
				return nil, fmt.Errorf("line %d: nested item", lineNo)
			}
			if !strings.HasSuffix(line, "{") {
				return nil, fmt.Errorf("line %d: expected '{' after item", lineNo)
			}
			cur = &Label{}
			hasID = false
		case line == "}":
			if cur == nil {
				return nil, fmt.Errorf("line %d: unexpected '}'", lineNo)
			}
			if !hasID {
				return nil, fmt.Errorf("line %d: item without id", lineNo)
			}
			m[cur.ID] = *cur
			cur = nil
		default:
			if cur == nil {
				return nil, fmt.Errorf("line %d: field outside item", lineNo)
			}
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: expected key: value", lineNo)
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "id":
				id, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid id %q", lineNo, value)
				}
				cur.ID = id
				hasID = true
			case "name":
				cur.Name = unquote(value)
			case "display_name":
				cur.DisplayName = unquote(value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label map: %w", err)
	}
	if cur != nil {
		return nil, fmt.Errorf("unterminated item at end of input")
	}
	return m, nil
}

func unquote(s string) string {
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return strings.Trim(s, `"'`)
}
