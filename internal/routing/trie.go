package routing

import (
	"fmt"

	"unicity-proxy.backend/internal/domain/entities"
)

// trieNode is one vertex of the bit-suffix trie. A node either carries a
// target URL (leaf) or both children (internal); the validator rejects
// anything else.
type trieNode struct {
	zero *trieNode
	one  *trieNode
	url  string
}

func (n *trieNode) leaf() bool {
	return n.url != ""
}

// buildTrie inserts every shard walking its suffix LSB-first: bit 0 descends
// to the zero child, bit 1 to the one child.
func buildTrie(shards []entities.ShardInfo) (*trieNode, error) {
	root := &trieNode{}
	for _, s := range shards {
		length, suffix, err := SuffixBits(s.ID)
		if err != nil {
			return nil, err
		}
		node := root
		for i := 0; i < length; i++ {
			if node.leaf() {
				return nil, fmt.Errorf("shard %d: suffix overlaps shard at %q", s.ID, node.url)
			}
			if suffix&(1<<uint(i)) == 0 {
				if node.zero == nil {
					node.zero = &trieNode{}
				}
				node = node.zero
			} else {
				if node.one == nil {
					node.one = &trieNode{}
				}
				node = node.one
			}
		}
		if node.url != "" {
			return nil, fmt.Errorf("shard %d: duplicate suffix", s.ID)
		}
		if node.zero != nil || node.one != nil {
			return nil, fmt.Errorf("shard %d: suffix is a prefix of another shard", s.ID)
		}
		node.url = s.URL
	}
	if err := validateTrie(root); err != nil {
		return nil, err
	}
	return root, nil
}

// validateTrie enforces exhaustive, unique partitioning of the request-id
// space: every internal node has both children and every leaf has a URL.
func validateTrie(n *trieNode) error {
	if n.leaf() {
		return nil
	}
	if n.zero == nil || n.one == nil {
		return fmt.Errorf("shard config does not cover the full request-id space")
	}
	if err := validateTrie(n.zero); err != nil {
		return err
	}
	return validateTrie(n.one)
}
