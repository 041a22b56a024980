package entities

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// ShardInfo describes one backend aggregator node. The decimal id encodes an
// implicit bit-suffix over request-ids; id=1 is the catch-all.
type ShardInfo struct {
	ID  uint64 `json:"id"`
	URL string `json:"url"`
}

// ShardConfig is the routing document. The latest stored version wins;
// history is append-only.
type ShardConfig struct {
	Version int         `json:"version"`
	Shards  []ShardInfo `json:"shards"`
}

// ShardConfigRecord is one stored revision of the routing document.
type ShardConfigRecord struct {
	ID        int64     `json:"id"`
	Document  string    `json:"document"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParseShardConfig decodes and structurally validates a routing document.
// Bit-suffix completeness is checked separately by the routing table builder.
func ParseShardConfig(document []byte) (*ShardConfig, error) {
	var cfg ShardConfig
	if err := json.Unmarshal(document, &cfg); err != nil {
		return nil, fmt.Errorf("invalid shard config document: %w", err)
	}
	if len(cfg.Shards) == 0 {
		return nil, fmt.Errorf("shard config has no shards")
	}
	seen := make(map[uint64]struct{}, len(cfg.Shards))
	for _, s := range cfg.Shards {
		if s.ID == 0 {
			return nil, fmt.Errorf("shard id must be positive")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("duplicate shard id %d", s.ID)
		}
		seen[s.ID] = struct{}{}
		u, err := url.Parse(s.URL)
		if err != nil {
			return nil, fmt.Errorf("shard %d: invalid url: %w", s.ID, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("shard %d: url must be http or https", s.ID)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("shard %d: url must be absolute", s.ID)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return nil, fmt.Errorf("shard %d: url must not carry query or fragment", s.ID)
		}
	}
	return &cfg, nil
}
