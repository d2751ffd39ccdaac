package workflow

import (
	"context"
	"fmt"

	"github.com/apache/incubator-ariatosca-sub004/model"
)

// StandardInterface is the lifecycle interface the built-in workflows drive.
const StandardInterface = "standard"

// Lifecycle operation names on the standard interface.
const (
	OpCreate    = "create"
	OpConfigure = "configure"
	OpStart     = "start"
	OpStop      = "stop"
	OpDelete    = "delete"
)

// Install builds the install graph: per node, create -> configure -> start,
// with every node installing after the nodes it depends on.
func Install(ctx *Context, graph *TaskGraph, _ map[string]any) error {
	return lifecycleGraph(ctx, graph, []string{OpCreate, OpConfigure, OpStart}, false)
}

// Uninstall builds the uninstall graph: per node, stop -> delete, dependents
// uninstalling before their dependencies.
func Uninstall(ctx *Context, graph *TaskGraph, _ map[string]any) error {
	return lifecycleGraph(ctx, graph, []string{OpStop, OpDelete}, true)
}

// StartNodes starts every node in dependency order.
func StartNodes(ctx *Context, graph *TaskGraph, _ map[string]any) error {
	return lifecycleGraph(ctx, graph, []string{OpStart}, false)
}

// StopNodes stops every node, dependents first.
func StopNodes(ctx *Context, graph *TaskGraph, _ map[string]any) error {
	return lifecycleGraph(ctx, graph, []string{OpStop}, true)
}

// Heal tears down the failing node and everything depending on it, then
// reinstalls the same set. Input "node_id" names the failing node.
func Heal(ctx *Context, graph *TaskGraph, inputs map[string]any) error {
	nodeID, _ := inputs["node_id"].(string)
	if nodeID == "" {
		return fmt.Errorf("heal requires a node_id input")
	}

	affected, err := affectedNodeIDs(ctx, nodeID)
	if err != nil {
		return err
	}

	teardown, err := NewWorkflowTask("heal_uninstall", func(ctx *Context, g *TaskGraph, _ map[string]any) error {
		return lifecycleSubset(ctx, g, []string{OpStop, OpDelete}, true, affected)
	}, nil)
	if err != nil {
		return err
	}
	rebuild, err := NewWorkflowTask("heal_install", func(ctx *Context, g *TaskGraph, _ map[string]any) error {
		return lifecycleSubset(ctx, g, []string{OpCreate, OpConfigure, OpStart}, false, affected)
	}, nil)
	if err != nil {
		return err
	}

	_, err = graph.Sequence(teardown, rebuild)
	return err
}

// ExecuteOperation runs one arbitrary operation across nodes. Inputs:
// "interface" and "operation" (required), "node_ids" (optional subset),
// "operation_inputs" (optional map passed to every task).
func ExecuteOperation(ctx *Context, graph *TaskGraph, inputs map[string]any) error {
	interfaceName, _ := inputs["interface"].(string)
	operationName, _ := inputs["operation"].(string)
	if interfaceName == "" || operationName == "" {
		return fmt.Errorf("execute_operation requires interface and operation inputs")
	}

	var selected map[string]bool
	switch rawIDs := inputs["node_ids"].(type) {
	case []string:
		selected = make(map[string]bool, len(rawIDs))
		for _, id := range rawIDs {
			selected[id] = true
		}
	case []any:
		// Parsed inputs arrive as []any.
		selected = make(map[string]bool, len(rawIDs))
		for _, raw := range rawIDs {
			if id, ok := raw.(string); ok {
				selected[id] = true
			}
		}
	}
	opInputs, _ := inputs["operation_inputs"].(map[string]any)

	nodes, err := instanceNodes(ctx)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if selected != nil && !selected[node.ID] {
			continue
		}
		if !hasOperation(node, interfaceName, operationName) {
			continue
		}
		task, err := NewOperationTask(node, interfaceName, operationName, WithInputs(opInputs))
		if err != nil {
			return err
		}
		if _, err := graph.AddTasks(task); err != nil {
			return err
		}
	}
	return nil
}

// lifecycleGraph builds per-node operation sequences for every node in the
// service instance, linked by the nodes' relationship dependencies.
func lifecycleGraph(ctx *Context, graph *TaskGraph, operations []string, reverse bool) error {
	return lifecycleSubset(ctx, graph, operations, reverse, nil)
}

func lifecycleSubset(ctx *Context, graph *TaskGraph, operations []string, reverse bool, only map[string]bool) error {
	nodes, err := instanceNodes(ctx)
	if err != nil {
		return err
	}

	// Per-node sequences, indexed for cross-node edges.
	first := make(map[string]Task, len(nodes))
	last := make(map[string]Task, len(nodes))
	for _, node := range nodes {
		if only != nil && !only[node.ID] {
			continue
		}
		var sequence []any
		for _, opName := range operations {
			if hasOperation(node, StandardInterface, opName) {
				task, err := NewOperationTask(node, StandardInterface, opName)
				if err != nil {
					return err
				}
				sequence = append(sequence, task)
			} else {
				sequence = append(sequence, NewStubTask())
			}
		}
		added, err := graph.Sequence(sequence...)
		if err != nil {
			return err
		}
		first[node.ID] = added[0]
		last[node.ID] = added[len(added)-1]
	}

	// A node installs after the targets of its outbound relationships;
	// reversed for teardown.
	for _, node := range nodes {
		if _, ok := first[node.ID]; !ok {
			continue
		}
		for _, relID := range node.OutboundRelationshipIDs {
			rel, err := ctx.Model.Relationships().Get(context.Background(), relID)
			if err != nil {
				return fmt.Errorf("resolve relationship %s: %w", relID, err)
			}
			if _, ok := first[rel.TargetNodeID]; !ok {
				continue
			}
			var dependent, dependency Task
			if reverse {
				dependent, dependency = first[rel.TargetNodeID], last[node.ID]
			} else {
				dependent, dependency = first[node.ID], last[rel.TargetNodeID]
			}
			if _, err := graph.AddDependency(dependent, dependency); err != nil {
				return err
			}
		}
	}
	return nil
}

// affectedNodeIDs returns nodeID plus every node transitively depending on
// it through inbound relationships.
func affectedNodeIDs(ctx *Context, nodeID string) (map[string]bool, error) {
	nodes, err := instanceNodes(ctx)
	if err != nil {
		return nil, err
	}

	// dependency target -> dependent sources
	dependents := make(map[string][]string)
	for _, node := range nodes {
		for _, relID := range node.OutboundRelationshipIDs {
			rel, err := ctx.Model.Relationships().Get(context.Background(), relID)
			if err != nil {
				return nil, fmt.Errorf("resolve relationship %s: %w", relID, err)
			}
			dependents[rel.TargetNodeID] = append(dependents[rel.TargetNodeID], node.ID)
		}
	}

	affected := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, dependent := range dependents[id] {
			if !affected[dependent] {
				affected[dependent] = true
				frontier = append(frontier, dependent)
			}
		}
	}
	return affected, nil
}

func instanceNodes(ctx *Context) ([]*model.Node, error) {
	instance, err := ctx.ServiceInstance(context.Background())
	if err != nil {
		return nil, fmt.Errorf("resolve service instance: %w", err)
	}
	nodes := make([]*model.Node, 0, len(instance.NodeIDs))
	for _, id := range instance.NodeIDs {
		node, err := ctx.Model.Nodes().Get(context.Background(), id)
		if err != nil {
			return nil, fmt.Errorf("resolve node %s: %w", id, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func hasOperation(actor model.Actor, interfaceName, operationName string) bool {
	iface, ok := actor.Interface(interfaceName)
	if !ok {
		return false
	}
	_, ok = iface.Operations[operationName]
	return ok
}
