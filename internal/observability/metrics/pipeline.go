package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type pipelineCollector struct {
	mu         sync.Mutex
	extracted  map[string]uint64
	rejected   map[rejectionKey]uint64
	executions map[string]uint64
}

type rejectionKey struct {
	kind   string
	reason string
}

var pipelineStats = &pipelineCollector{
	extracted:  make(map[string]uint64),
	rejected:   make(map[rejectionKey]uint64),
	executions: make(map[string]uint64),
}

// ObserveIntentExtracted counts one intent produced by the extractor.
func ObserveIntentExtracted(kind string) {
	pipelineStats.mu.Lock()
	pipelineStats.extracted[kind]++
	pipelineStats.mu.Unlock()
}

// ObserveIntentRejected counts one intent dropped by the policy validator.
func ObserveIntentRejected(kind, reason string) {
	pipelineStats.mu.Lock()
	pipelineStats.rejected[rejectionKey{kind: kind, reason: reason}]++
	pipelineStats.mu.Unlock()
}

// ObserveExecution counts one finished bundle execution by result.
func ObserveExecution(result string) {
	pipelineStats.mu.Lock()
	pipelineStats.executions[result]++
	pipelineStats.mu.Unlock()
}

func (c *pipelineCollector) render(builder *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kinds := make([]string, 0, len(c.extracted))
	for kind := range c.extracted {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	builder.WriteString("# HELP chainpilot_intents_extracted_total Intents produced by the extractor.\n")
	builder.WriteString("# TYPE chainpilot_intents_extracted_total counter\n")
	for _, kind := range kinds {
		builder.WriteString(fmt.Sprintf("chainpilot_intents_extracted_total{kind=%q} %d\n", kind, c.extracted[kind]))
	}

	rejections := make([]rejectionKey, 0, len(c.rejected))
	for key := range c.rejected {
		rejections = append(rejections, key)
	}
	sort.Slice(rejections, func(i, j int) bool {
		if rejections[i].kind != rejections[j].kind {
			return rejections[i].kind < rejections[j].kind
		}
		return rejections[i].reason < rejections[j].reason
	})
	builder.WriteString("# HELP chainpilot_intents_rejected_total Intents dropped by the policy validator.\n")
	builder.WriteString("# TYPE chainpilot_intents_rejected_total counter\n")
	for _, key := range rejections {
		builder.WriteString(fmt.Sprintf("chainpilot_intents_rejected_total{kind=%q,reason=%q} %d\n",
			key.kind, key.reason, c.rejected[key]))
	}

	results := make([]string, 0, len(c.executions))
	for result := range c.executions {
		results = append(results, result)
	}
	sort.Strings(results)
	builder.WriteString("# HELP chainpilot_bundle_executions_total Bundle executions by terminal result.\n")
	builder.WriteString("# TYPE chainpilot_bundle_executions_total counter\n")
	for _, result := range results {
		builder.WriteString(fmt.Sprintf("chainpilot_bundle_executions_total{result=%q} %d\n", result, c.executions[result]))
	}
}
