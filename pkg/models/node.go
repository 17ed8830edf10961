// Package models contains the data types shared by the hasher, the tree
// differ, the download queue and the orchestrator.
package models

import "encoding/json"

// Node is a hashed file or directory.
//
// A nil Children slice marks a file. Directories always carry a non-nil
// slice, which may be empty.
type Node struct {
	Name     string
	Hash     string
	Children []*Node

	index map[string]*Node
}

// NewFile returns a file node.
func NewFile(name, hash string) *Node {
	return &Node{Name: name, Hash: hash}
}

// NewDir returns a directory node with the given children.
func NewDir(name, hash string, children ...*Node) *Node {
	if children == nil {
		children = []*Node{}
	}
	return &Node{Name: name, Hash: hash, Children: children}
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n != nil && n.Children != nil
}

// Child looks up a direct child by name. The name index is built on first
// use; trees are not safe for concurrent first lookups.
func (n *Node) Child(name string) *Node {
	if n == nil || n.Children == nil {
		return nil
	}
	if n.index == nil {
		n.index = make(map[string]*Node, len(n.Children))
		for _, c := range n.Children {
			n.index[c.Name] = c
		}
	}
	return n.index[name]
}

type nodeJSON struct {
	Name     string   `json:"name"`
	Hash     string   `json:"hash"`
	Children *[]*Node `json:"children,omitempty"`
}

// MarshalJSON keeps "children": [] on empty directories so they decode back
// as directories.
func (n *Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{Name: n.Name, Hash: n.Hash}
	if n.Children != nil {
		out.Children = &n.Children
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	var in nodeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	n.Name = in.Name
	n.Hash = in.Hash
	n.Children = nil
	n.index = nil
	if in.Children != nil {
		children := make([]*Node, 0, len(*in.Children))
		for _, c := range *in.Children {
			if c != nil {
				children = append(children, c)
			}
		}
		n.Children = children
	}
	return nil
}

// Manifest is the published update descriptor.
type Manifest struct {
	Version    string `json:"version"`
	Hash       *Node  `json:"hash"`
	TargetPath string `json:"targetPath"`
}
