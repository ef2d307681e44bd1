package domain

import (
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const pathSeparator = "/"

// Node is the structural view of a member used by the path builder.
type Node struct {
	ID         snowflake.ID
	ReferrerID *snowflake.ID
}

// Assignment is a computed materialized path.
type Assignment struct {
	ID    snowflake.ID
	Path  []snowflake.ID
	Level int
}

// Encoded returns the stored form of the assignment's path.
func (a Assignment) Encoded() string {
	return EncodePath(a.Path)
}

type PathFailureReason string

const (
	PathFailureMissingReferrer PathFailureReason = "missing_referrer"
	PathFailureCycle           PathFailureReason = "cyclic_referral"
)

// PathFailure is a member that had to be promoted to an orphan root.
type PathFailure struct {
	ID     snowflake.ID
	Reason PathFailureReason
}

// EncodePath renders ids root first as /1/2/3/.
func EncodePath(ids []snowflake.ID) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(pathSeparator)
	for _, id := range ids {
		b.WriteString(strconv.FormatInt(int64(id), 10))
		b.WriteString(pathSeparator)
	}
	return b.String()
}

// DecodePath parses the stored form of a path.
func DecodePath(encoded string) ([]snowflake.ID, error) {
	trimmed := strings.Trim(encoded, pathSeparator)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, pathSeparator)
	ids := make([]snowflake.ID, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, ErrInvalidPath
		}
		ids = append(ids, snowflake.ID(v))
	}
	return ids, nil
}

// ConsistentWith reports whether a path agrees with the member's referrer
// link and level.
func ConsistentWith(path []snowflake.ID, id snowflake.ID, referrerID *snowflake.ID, level int) bool {
	if len(path) == 0 || path[len(path)-1] != id || level != len(path)-1 {
		return false
	}
	if referrerID == nil {
		return len(path) == 1
	}
	if len(path) == 1 {
		// orphan root
		return true
	}
	return path[len(path)-2] == *referrerID
}

// BuildPaths computes a path for every node. Roots are walked first, then
// breadth first over children in id order. Nodes whose referrer is absent or
// that sit on a referral cycle become orphan roots and are reported.
// Every node is visited exactly once.
func BuildPaths(nodes []Node) ([]Assignment, []PathFailure) {
	byID := make(map[snowflake.ID]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	children := childIndex(nodes)
	visited := make(map[snowflake.ID]bool, len(nodes))
	assignments := make([]Assignment, 0, len(nodes))
	var failures []PathFailure

	ordered := append([]Node(nil), nodes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var roots, orphans []snowflake.ID
	for _, n := range ordered {
		if n.ReferrerID == nil {
			roots = append(roots, n.ID)
			continue
		}
		if _, ok := byID[*n.ReferrerID]; !ok || *n.ReferrerID == n.ID {
			orphans = append(orphans, n.ID)
		}
	}

	for _, id := range roots {
		assignments = walk(Assignment{ID: id, Path: []snowflake.ID{id}}, children, visited, assignments)
	}
	for _, id := range orphans {
		if visited[id] {
			continue
		}
		failures = append(failures, PathFailure{ID: id, Reason: PathFailureMissingReferrer})
		assignments = walk(Assignment{ID: id, Path: []snowflake.ID{id}}, children, visited, assignments)
	}
	for _, n := range ordered {
		if visited[n.ID] {
			continue
		}
		// Whatever is left hangs below a referral cycle.
		rootID := cycleRoot(n.ID, byID)
		failures = append(failures, PathFailure{ID: rootID, Reason: PathFailureCycle})
		assignments = walk(Assignment{ID: rootID, Path: []snowflake.ID{rootID}}, children, visited, assignments)
	}

	return assignments, failures
}

// BuildSubtree extends root over the nodes below it. Nodes that are not
// reachable from root are ignored.
func BuildSubtree(root Assignment, nodes []Node) []Assignment {
	visited := make(map[snowflake.ID]bool, len(nodes)+1)
	return walk(root, childIndex(nodes), visited, make([]Assignment, 0, len(nodes)+1))
}

// cycleRoot follows referrer links from start until one repeats and returns
// the smallest id on that cycle.
func cycleRoot(start snowflake.ID, byID map[snowflake.ID]Node) snowflake.ID {
	seen := make(map[snowflake.ID]int)
	var chain []snowflake.ID
	current := start
	for {
		if idx, ok := seen[current]; ok {
			root := chain[idx]
			for _, id := range chain[idx:] {
				if id < root {
					root = id
				}
			}
			return root
		}
		node, ok := byID[current]
		if !ok || node.ReferrerID == nil {
			return current
		}
		seen[current] = len(chain)
		chain = append(chain, current)
		current = *node.ReferrerID
	}
}

func childIndex(nodes []Node) map[snowflake.ID][]snowflake.ID {
	children := make(map[snowflake.ID][]snowflake.ID)
	for _, n := range nodes {
		if n.ReferrerID == nil || *n.ReferrerID == n.ID {
			continue
		}
		children[*n.ReferrerID] = append(children[*n.ReferrerID], n.ID)
	}
	for parent := range children {
		ids := children[parent]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return children
}

func walk(root Assignment, children map[snowflake.ID][]snowflake.ID, visited map[snowflake.ID]bool, out []Assignment) []Assignment {
	if visited[root.ID] {
		return out
	}
	root.Level = len(root.Path) - 1
	visited[root.ID] = true
	queue := []Assignment{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		out = append(out, current)
		for _, childID := range children[current.ID] {
			if visited[childID] {
				continue
			}
			visited[childID] = true
			path := make([]snowflake.ID, len(current.Path)+1)
			copy(path, current.Path)
			path[len(current.Path)] = childID
			queue = append(queue, Assignment{ID: childID, Path: path, Level: current.Level + 1})
		}
	}
	return out
}
