package pakfuse

import (
	"sort"
	"strings"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
)

// rootInode is the fixed inode of the mount root, as fuseops requires
// (fuseops.RootInodeID).
const rootInode = fuseops.RootInodeID

// node is one entry of the directory tree the facade materializes from the
// flat record list on mount (spec §4.8: "Node = File{record_index} |
// Dir{children: map<name, Node>}"). A node is either a directory (record ==
// nil, children populated) or a file (record set, children nil).
type node struct {
	name     string
	inode    fuseops.InodeID
	record   *pakfile.Record
	children map[string]*node
}

func (n *node) isDir() bool { return n.record == nil }

// buildTree flattens pak.Records into a strict directory tree keyed by
// inode, rejecting any duplicate path as InvalidRecord (spec §9: "paths are
// normalized, duplicates rejected").
func buildTree(records []*pakfile.Record) (*node, map[fuseops.InodeID]*node, error) {
	root := &node{name: "/", inode: rootInode, children: map[string]*node{}}
	inodes := map[fuseops.InodeID]*node{rootInode: root}
	next := rootInode + 1

	for _, rec := range records {
		parts := strings.Split(strings.TrimPrefix(rec.Filename, "/"), "/")
		cur := root
		for i, part := range parts {
			if part == "" {
				return nil, nil, &pakerr.InvalidRecord{Path: rec.Filename, Reason: "empty path component"}
			}
			last := i == len(parts)-1
			child, ok := cur.children[part]
			if !ok {
				child = &node{name: part, inode: next, children: nil}
				if !last {
					child.children = map[string]*node{}
				}
				next++
				cur.children[part] = child
				inodes[child.inode] = child
			} else if last {
				return nil, nil, &pakerr.InvalidRecord{Path: rec.Filename, Reason: "duplicate path"}
			} else if !child.isDir() {
				return nil, nil, &pakerr.InvalidRecord{Path: rec.Filename, Reason: "path component is both file and directory"}
			}
			if last {
				child.record = rec
			}
			cur = child
		}
	}

	return root, inodes, nil
}

// sortedChildren returns n's children sorted by name, giving ReadDir a
// deterministic iteration order (spec §9: no cyclic/recursive structures,
// paths normalized; SPEC_FULL.md's supplemented deterministic-output
// preference extends here too).
func sortedChildren(n *node) []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
