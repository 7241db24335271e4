package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"feed_connected": {
		Event:    "feed_connected",
		Required: []string{"session", "endpoint", "symbols"},
	},
	"feed_disconnected": {
		Event:    "feed_disconnected",
		Required: []string{"session"},
	},
	"feed_error": {
		Event:    "feed_error",
		Required: []string{"session", "message"},
	},
	"malformed_event": {
		Event:    "malformed_event",
		Required: []string{"session", "error"},
	},
	"symbols_changed": {
		Event:    "symbols_changed",
		Required: []string{"session", "symbols"},
	},
	"config_reloaded": {
		Event:    "config_reloaded",
		Required: []string{"path"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key；空字符串视为缺失。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		v, exists := fields[key]
		if !exists {
			missing = append(missing, key)
			continue
		}
		if str, isStr := v.(string); isStr && str == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
