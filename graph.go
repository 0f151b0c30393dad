package pipeline

import "fmt"

// FindNode returns the node with the given id, or nil.
func FindNode(nodes []Node, id string) *Node {
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i]
		}
	}
	return nil
}

// ConnectedSource returns the upstream node feeding targetID: the source of
// the first edge whose Target is targetID. One producer per consumer is
// assumed; further incoming edges are ignored. Returns nil when the node has
// no upstream or the edge's source node is missing.
func ConnectedSource(targetID string, nodes []Node, edges []Edge) *Node {
	for _, e := range edges {
		if e.Target == targetID {
			return FindNode(nodes, e.Source)
		}
	}
	return nil
}

// OutputVariables lists the symbolic names a node can offer downstream
// consumers. This is the schema configuration UIs use to present valid
// {{sourceNode.*}} references, so it must stay in lockstep with what each
// executor actually publishes.
func OutputVariables(n *Node) []string {
	switch cfg := n.Data.Config.(type) {
	case *DatasetConfig:
		return []string{"outputPath"}
	case *VersioningConfig:
		vars := []string{"outputPath", "datasetId", "datasetName"}
		if len(cfg.InputPaths) > 0 {
			for i := range cfg.InputPaths {
				vars = append(vars, fmt.Sprintf("inputPaths[%d]", i))
			}
		} else {
			vars = append(vars, "inputPath")
		}
		return vars
	case *PreprocessingConfig:
		return append([]string{"outputPath"}, cfg.DeclaredOutputs()...)
	case *TrainingConfig:
		return []string{"modelPath", "metricsPath"}
	}
	return []string{"outputPath"}
}
