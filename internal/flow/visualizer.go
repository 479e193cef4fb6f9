package flow

import (
	"fmt"
	"strings"
)

// Visualize renders cfg as a Mermaid state diagram, grounded on the
// teacher's visualizer.go. Read-only tooling, not part of the mandatory
// engine contract.
func Visualize(cfg *FlowConfig) string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	if cfg.Initial != nil {
		fmt.Fprintf(&b, "    [*] --> %s\n", mermaidID(cfg.Initial.ID))
	}

	for id, def := range cfg.States {
		if IsTerminal(def) {
			fmt.Fprintf(&b, "    %s --> [*]\n", mermaidID(id))
		}
	}

	for from, edges := range cfg.Transitions {
		for _, e := range edges {
			label := string(e.Condition)
			if e.Condition == ConditionCustom {
				label = e.CustomName
			}
			fmt.Fprintf(&b, "    %s --> %s : %s\n", mermaidID(from), mermaidID(e.To), label)
		}
	}

	return b.String()
}

// mermaidID substitutes characters Mermaid's state-id grammar rejects.
func mermaidID(id string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(id)
}
