package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type settlementKey struct {
	operation string
	result    string
}

type settlements struct {
	mu     sync.Mutex
	counts map[settlementKey]uint64
}

var settlementCollector = &settlements{
	counts: make(map[settlementKey]uint64),
}

// ObserveSettlement records the outcome of a settlement attempt.
// operation is one of "withdraw", "cancel" or "expire".
func ObserveSettlement(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	settlementCollector.mu.Lock()
	settlementCollector.counts[settlementKey{operation: operation, result: result}]++
	settlementCollector.mu.Unlock()
}

func (s *settlements) render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]settlementKey, 0, len(s.counts))
	for key := range s.counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].operation == keys[j].operation {
			return keys[i].result < keys[j].result
		}
		return keys[i].operation < keys[j].operation
	})

	var builder strings.Builder
	builder.WriteString("# HELP swift_settlements_total Total number of stream settlement attempts.\n")
	builder.WriteString("# TYPE swift_settlements_total counter\n")
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf("swift_settlements_total{operation=\"%s\",result=\"%s\"} %d\n",
			escape(key.operation), escape(key.result), s.counts[key]))
	}
	return builder.String()
}
