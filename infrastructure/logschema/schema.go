// Package logschema 定义结构化日志事件的必需字段，测试中用来校验引擎输出。
package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，以及绝不能出现的字段。
type Schema struct {
	Event     string
	Required  []string
	Forbidden []string
}

// 撮合日志只能带混淆后的对手方引用
var rawOrderIDs = []string{"order_id", "buy_id", "sell_id", "counterparty_id"}

var schemas = map[string]Schema{
	"order_event.admitted": {
		Event:    "order_event.admitted",
		Required: []string{"order_id", "epoch_id", "block_id", "side"},
	},
	"order_event.cancelled": {
		Event:    "order_event.cancelled",
		Required: []string{"order_id"},
	},
	"epoch_event.opened": {
		Event:    "epoch_event.opened",
		Required: []string{"epoch_id", "epoch_index", "closes_in"},
	},
	"epoch_event.closed": {
		Event:    "epoch_event.closed",
		Required: []string{"epoch_id", "epoch_index", "blocks", "orders", "prioritized", "pairs", "force_closed"},
	},
	"epoch_event.completed": {
		Event:    "epoch_event.completed",
		Required: []string{"epoch_id", "epoch_index", "matched", "expired", "total"},
	},
	"match_event": {
		Event:     "match_event",
		Required:  []string{"epoch_id", "price", "amount"},
		Forbidden: rawOrderIDs,
	},
}

// Name 把日志 message 和 event 字段拼成 schema 名称
func Name(message string, fields map[string]interface{}) string {
	if ev, ok := fields["event"].(string); ok && ev != "" {
		return message + "." + ev
	}
	return message
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

// Validate 检查日志字段是否包含 schema 中要求的 key。未登记的事件直接通过。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing, leaked []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	for _, key := range s.Forbidden {
		if _, exists := fields[key]; exists {
			leaked = append(leaked, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing fields: %s", event, strings.Join(missing, ","))
	}
	if len(leaked) > 0 {
		return fmt.Errorf("%s: forbidden fields: %s", event, strings.Join(leaked, ","))
	}
	return nil
}
