package routing

import (
	"fmt"
	"math/big"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"unicity-proxy.backend/internal/domain/entities"
)

// Resolution failures the HTTP edge maps to 400.
var (
	ErrBothIDs      = fmt.Errorf("cannot specify both requestId and shardId")
	ErrMissingID    = fmt.Errorf("JSON-RPC requests must include either requestId or shardId")
	ErrUnknownShard = fmt.Errorf("unknown shard id")
	ErrBadRequestID = fmt.Errorf("malformed requestId")
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

const maxRequestIDBits = 256

// Table routes requests to aggregator shards. It is immutable once built;
// ConfigReloader swaps whole tables through a Holder.
type Table struct {
	root *trieNode
	byID map[uint64]string
	urls []string
}

// Build constructs and validates a routing table from a parsed shard config.
func Build(cfg *entities.ShardConfig) (*Table, error) {
	root, err := buildTrie(cfg.Shards)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]string, len(cfg.Shards))
	urlSet := make(map[string]struct{}, len(cfg.Shards))
	var urls []string
	for _, s := range cfg.Shards {
		byID[s.ID] = s.URL
		if _, ok := urlSet[s.URL]; !ok {
			urlSet[s.URL] = struct{}{}
			urls = append(urls, s.URL)
		}
	}
	return &Table{root: root, byID: byID, urls: urls}, nil
}

// RouteByRequestID walks the trie along the request-id bits, least
// significant first. Accepts upper or lower case hex with an optional 0x
// prefix.
func (t *Table) RouteByRequestID(requestID string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(requestID))
	id = strings.TrimPrefix(id, "0x")
	if id == "" || !hexPattern.MatchString(id) {
		return "", ErrBadRequestID
	}
	v, ok := new(big.Int).SetString(id, 16)
	if !ok {
		return "", ErrBadRequestID
	}
	node := t.root
	for i := 0; !node.leaf(); i++ {
		if i >= maxRequestIDBits {
			return "", fmt.Errorf("request-id walk exceeded %d bits", maxRequestIDBits)
		}
		if v.Bit(i) == 0 {
			node = node.zero
		} else {
			node = node.one
		}
	}
	return node.url, nil
}

// RouteByShardID resolves an explicit shard id.
func (t *Table) RouteByShardID(id uint64) (string, error) {
	url, ok := t.byID[id]
	if !ok {
		return "", ErrUnknownShard
	}
	return url, nil
}

// RandomTarget picks uniformly over the distinct shard URLs.
func (t *Table) RandomTarget() string {
	return t.urls[rand.Intn(len(t.urls))]
}

// URLs returns the distinct shard URLs, for health probing.
func (t *Table) URLs() []string {
	out := make([]string, len(t.urls))
	copy(out, t.urls)
	return out
}

// Resolve applies the shared route-resolution rules. requestID and shardID
// are the raw string parameters; jsonRPC marks classified JSON-RPC calls,
// which must carry one of the two.
func (t *Table) Resolve(requestID, shardID string, jsonRPC bool) (string, error) {
	switch {
	case requestID != "" && shardID != "":
		return "", ErrBothIDs
	case shardID != "":
		id, err := strconv.ParseUint(shardID, 10, 64)
		if err != nil {
			return "", ErrUnknownShard
		}
		return t.RouteByShardID(id)
	case requestID != "":
		return t.RouteByRequestID(requestID)
	case jsonRPC:
		return "", ErrMissingID
	default:
		return t.RandomTarget(), nil
	}
}
