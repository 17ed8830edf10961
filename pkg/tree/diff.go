package tree

import "github.com/fruitsalade/deltaupdate/pkg/models"

// pair is a subtree comparison waiting on the work stack.
type pair struct {
	local  *models.Node
	remote *models.Node
	path   string
}

// Diff returns the files that must be fetched to bring local up to remote.
//
// Only the remote tree drives the walk: subtrees with equal hashes are never
// entered, remote children missing locally are flattened into Added, and
// remote files whose hash differs land in Changed. Files that exist only
// locally are never visited, so deletions are not reported.
func Diff(local, remote *models.Node) *models.DiffSet {
	result := models.NewDiffSet()
	if remote == nil {
		return result
	}

	stack := []pair{{local, remote, RootPath}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.local == nil {
			appendLeaves(&result.Added, p.remote, p.path)
			continue
		}
		if p.remote.Hash == p.local.Hash {
			continue
		}
		if !p.remote.IsDir() {
			result.Changed = append(result.Changed, models.DiffEntry{
				FilePath: p.path,
				Hash:     p.remote.Hash,
			})
			continue
		}

		for i := len(p.remote.Children) - 1; i >= 0; i-- {
			rc := p.remote.Children[i]
			stack = append(stack, pair{
				local:  p.local.Child(rc.Name),
				remote: rc,
				path:   ChildPath(p.path, rc.Name),
			})
		}
	}
	return result
}
