// Package model defines the service model and orchestration records: nodes,
// relationships, their interfaces and operations, plus the durable Execution
// and TaskRecord entities the engine maintains while a workflow runs.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ActorKind distinguishes the two entity kinds an operation can act upon.
type ActorKind string

const (
	ActorNode         ActorKind = "node"
	ActorRelationship ActorKind = "relationship"
)

// RunsOn tags where a relationship operation executes.
type RunsOn string

const (
	RunsOnNode   RunsOn = "node"
	RunsOnSource RunsOn = "source"
	RunsOnTarget RunsOn = "target"
)

// Parameter is a typed input value declared on an operation or passed to a
// workflow.
type Parameter struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// PluginSpec names the plugin that provides an operation implementation.
type PluginSpec struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Operation describes a single invokable operation on an interface.
type Operation struct {
	Name           string               `json:"name"`
	Implementation string               `json:"implementation"`
	Plugin         *PluginSpec          `json:"plugin,omitempty"`
	Inputs         map[string]Parameter `json:"inputs,omitempty"`
}

// Interface groups operations under a named contract (e.g. "standard").
type Interface struct {
	Name       string                `json:"name"`
	Operations map[string]*Operation `json:"operations"`
}

// Actor is a node or relationship that an operation acts upon.
type Actor interface {
	ActorID() string
	ActorKind() ActorKind
	Interface(name string) (*Interface, bool)
}

// Node is a modeled service component instance.
type Node struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	ServiceInstanceID string                `json:"service_instance_id"`
	Interfaces        map[string]*Interface `json:"interfaces,omitempty"`
	Attributes        map[string]any        `json:"attributes,omitempty"`
	// OutboundRelationshipIDs orders this node's dependencies. Targets of
	// these relationships must be installed before the node itself.
	OutboundRelationshipIDs []string `json:"outbound_relationship_ids,omitempty"`
	State                   string   `json:"state,omitempty"`
}

// ActorID implements Actor.
func (n *Node) ActorID() string { return n.ID }

// ActorKind implements Actor.
func (n *Node) ActorKind() ActorKind { return ActorNode }

// Interface implements Actor.
func (n *Node) Interface(name string) (*Interface, bool) {
	iface, ok := n.Interfaces[name]
	return iface, ok
}

// EntityID implements storage addressing.
func (n *Node) EntityID() string { return n.ID }

// EntityName implements storage name lookup.
func (n *Node) EntityName() string { return n.Name }

// Relationship connects a source node to a target node.
type Relationship struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	SourceNodeID string                `json:"source_node_id"`
	TargetNodeID string                `json:"target_node_id"`
	Interfaces   map[string]*Interface `json:"interfaces,omitempty"`
}

// ActorID implements Actor.
func (r *Relationship) ActorID() string { return r.ID }

// ActorKind implements Actor.
func (r *Relationship) ActorKind() ActorKind { return ActorRelationship }

// Interface implements Actor.
func (r *Relationship) Interface(name string) (*Interface, bool) {
	iface, ok := r.Interfaces[name]
	return iface, ok
}

// EntityID implements storage addressing.
func (r *Relationship) EntityID() string { return r.ID }

// EntityName implements storage name lookup.
func (r *Relationship) EntityName() string { return r.Name }

// ServiceInstance is a deployed service composed of nodes.
type ServiceInstance struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	NodeIDs []string `json:"node_ids,omitempty"`
}

// EntityID implements storage addressing.
func (s *ServiceInstance) EntityID() string { return s.ID }

// EntityName implements storage name lookup.
func (s *ServiceInstance) EntityName() string { return s.Name }

// NewID generates a collision-resistant identifier.
func NewID() string { return uuid.New().String() }

// ResolveOperation looks up an operation on an actor's interface. It returns
// an error naming the actor when the interface or operation is absent.
func ResolveOperation(actor Actor, interfaceName, operationName string) (*Operation, error) {
	iface, ok := actor.Interface(interfaceName)
	if !ok {
		return nil, fmt.Errorf("%w: interface %q on %s %s", ErrOperationNotFound, interfaceName, actor.ActorKind(), actor.ActorID())
	}
	op, ok := iface.Operations[operationName]
	if !ok {
		return nil, fmt.Errorf("%w: operation %q on interface %q of %s %s", ErrOperationNotFound, operationName, interfaceName, actor.ActorKind(), actor.ActorID())
	}
	return op, nil
}
