package eigenlmm

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/arvados/eigenlmm/lmm"
)

// span is a closed interval of 1-based positions.
type span struct {
	lo int
	hi int
}

type spanTreeNode struct {
	span  span
	maxhi int
}

// spanTree is an implicit binary tree (children of i at 2i+1 and
// 2i+2) of spans sorted by lo, with each node recording the largest
// hi in its subtree.
type spanTree []spanTreeNode

// regionSet holds genomic regions per chromosome code. Add regions,
// then Freeze before calling Contains.
type regionSet struct {
	spans  map[float64][]span
	trees  map[float64]spanTree
	frozen bool
}

func (rs *regionSet) Add(chr float64, lo, hi int) {
	if rs.spans == nil {
		rs.spans = map[float64][]span{}
	}
	rs.spans[chr] = append(rs.spans[chr], span{lo, hi})
}

// Len returns the number of regions added.
func (rs *regionSet) Len() int {
	n := 0
	for _, spans := range rs.spans {
		n += len(spans)
	}
	return n
}

func (rs *regionSet) Freeze() {
	rs.trees = make(map[float64]spanTree, len(rs.spans))
	for chr, spans := range rs.spans {
		rs.trees[chr] = buildSpanTree(spans)
	}
	rs.frozen = true
}

// Overlaps returns true if [lo,hi] on chr intersects any region.
func (rs *regionSet) Overlaps(chr float64, lo, hi int) bool {
	if !rs.frozen {
		panic("bug: (*regionSet)Overlaps() called before Freeze()")
	}
	return rs.trees[chr].overlaps(0, span{lo, hi})
}

// Contains returns true if the variant's position is inside a
// region.
func (rs *regionSet) Contains(v lmm.Variant) bool {
	pos := int(v.Pos)
	return rs.Overlaps(v.Chr, pos, pos)
}

func buildSpanTree(spans []span) spanTree {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].lo < spans[j].lo
	})
	size := 1
	for size < len(spans) {
		size *= 2
	}
	tree := make(spanTree, size)
	for i := range tree {
		tree[i].maxhi = -1
	}
	tree.fill(0, spans)
	return tree
}

// fill stores the sorted spans in the subtree at root and returns
// the subtree's largest hi.
func (tree spanTree) fill(root int, spans []span) int {
	mid := len(spans) / 2
	node := spanTreeNode{span: spans[mid], maxhi: spans[mid].hi}
	if left := spans[:mid]; len(left) > 0 {
		if hi := tree.fill(root*2+1, left); hi > node.maxhi {
			node.maxhi = hi
		}
	}
	if right := spans[mid+1:]; len(right) > 0 {
		if hi := tree.fill(root*2+2, right); hi > node.maxhi {
			node.maxhi = hi
		}
	}
	tree[root] = node
	return node.maxhi
}

func (tree spanTree) overlaps(root int, q span) bool {
	if root >= len(tree) || tree[root].maxhi < q.lo {
		return false
	}
	if s := tree[root].span; s.lo <= q.hi && s.hi >= q.lo {
		return true
	}
	return tree.overlaps(root*2+1, q) || tree.overlaps(root*2+2, q)
}

// readRegions reads a BED file (chrom, 0-based start, exclusive end)
// and returns a frozen regionSet of 1-based closed intervals, each
// widened by expand bases on both sides. Chromosome names are
// converted the same way as .bim chromosome codes, so "chrX" matches
// "X" or "23".
func readRegions(fnm string, expand int) (*regionSet, error) {
	rs := &regionSet{}
	err := eachLine(fnm, func(_ int, fields []string) error {
		if fields[0] == "track" || fields[0] == "browser" || fields[0][0] == '#' {
			return nil
		}
		if len(fields) < 3 {
			return fmt.Errorf("%d fields < 3", len(fields))
		}
		chr, err := parseChr(fields[0])
		if err != nil {
			return err
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("end: %w", err)
		}
		lo := start + 1 - expand
		if lo < 1 {
			lo = 1
		}
		rs.Add(chr, lo, end+expand)
		return nil
	})
	if err != nil {
		return nil, err
	}
	rs.Freeze()
	return rs, nil
}
