// Package tree provides utilities for working with hashed file trees.
package tree

import (
	"strings"

	"github.com/fruitsalade/deltaupdate/pkg/models"
)

// RootPath is the relative path of a tree root.
const RootPath = "."

// ChildPath constructs a child path from parent + name.
func ChildPath(parentPath, name string) string {
	return parentPath + "/" + name
}

// FindByPath resolves a "./a/b" style path below root.
func FindByPath(root *models.Node, path string) *models.Node {
	if root == nil {
		return nil
	}
	path = strings.TrimPrefix(path, RootPath)
	node := root
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		node = node.Child(part)
		if node == nil {
			return nil
		}
	}
	return node
}

// CountNodes counts all nodes in a tree.
func CountNodes(root *models.Node) int {
	if root == nil {
		return 0
	}
	count := 0
	stack := []*models.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, n.Children...)
	}
	return count
}

// CountLeaves counts the files in a tree.
func CountLeaves(root *models.Node) int {
	return len(Leaves(root, RootPath))
}

// Leaves flattens a subtree into its files, in child order. Directories
// contribute no entry of their own.
func Leaves(root *models.Node, path string) []models.DiffEntry {
	var out []models.DiffEntry
	appendLeaves(&out, root, path)
	return out
}

type pending struct {
	node *models.Node
	path string
}

func appendLeaves(out *[]models.DiffEntry, root *models.Node, path string) {
	if root == nil {
		return
	}
	stack := []pending{{root, path}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !p.node.IsDir() {
			*out = append(*out, models.DiffEntry{FilePath: p.path, Hash: p.node.Hash})
			continue
		}
		// Reverse push keeps output in child order.
		for i := len(p.node.Children) - 1; i >= 0; i-- {
			c := p.node.Children[i]
			stack = append(stack, pending{c, ChildPath(p.path, c.Name)})
		}
	}
}
