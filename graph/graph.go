// Package graph maintains the in-memory liquidity index used by the path
// finders. It is rebuilt wholesale from pool-state snapshots each scan cycle;
// pools are referenced by index into an arena slice rather than by pointer.
package graph

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/types"
)

// PoolID is an index into the graph's pool arena, valid until the next
// Rebuild.
type PoolID int

// Graph is a bidirectional token-pair -> pools index.
type Graph struct {
	pools     []types.PoolState
	pairIndex map[uint64][]PoolID
	adjacency map[common.Address][]common.Address
	allowed   map[string]struct{}
	logger    *zap.Logger

	generation uint64
}

// New creates an empty graph restricted to the given protocol allow-list.
// An empty allow-list admits every protocol.
func New(supportedProtocols []string, logger *zap.Logger) *Graph {
	allowed := make(map[string]struct{}, len(supportedProtocols))
	for _, p := range supportedProtocols {
		allowed[p] = struct{}{}
	}
	return &Graph{
		pairIndex: make(map[uint64][]PoolID),
		adjacency: make(map[common.Address][]common.Address),
		allowed:   allowed,
		logger:    logger,
	}
}

// pairKey hashes an order-independent token pair to a uint64 index key.
func pairKey(a, b common.Address) uint64 {
	lo, hi := a, b
	if hi.Cmp(lo) < 0 {
		lo, hi = hi, lo
	}
	h := xxhash.New()
	_, _ = h.Write(lo.Bytes())
	_, _ = h.Write(hi.Bytes())
	return h.Sum64()
}

// Rebuild replaces the index from a fresh snapshot. O(pools). Pools with an
// unsupported protocol or a missing reserve are skipped.
func (g *Graph) Rebuild(pools []types.PoolState) {
	g.generation++
	g.pools = g.pools[:0]
	g.pairIndex = make(map[uint64][]PoolID, len(pools))
	adjacencySet := make(map[common.Address]map[common.Address]struct{})

	skipped := 0
	for _, pool := range pools {
		if len(g.allowed) > 0 {
			if _, ok := g.allowed[pool.Protocol]; !ok {
				skipped++
				continue
			}
		}
		if !pool.HasLiquidity() {
			skipped++
			continue
		}

		id := PoolID(len(g.pools))
		g.pools = append(g.pools, pool)

		key := pairKey(pool.Token0, pool.Token1)
		g.pairIndex[key] = append(g.pairIndex[key], id)

		for _, edge := range [2][2]common.Address{
			{pool.Token0, pool.Token1},
			{pool.Token1, pool.Token0},
		} {
			set, ok := adjacencySet[edge[0]]
			if !ok {
				set = make(map[common.Address]struct{})
				adjacencySet[edge[0]] = set
			}
			set[edge[1]] = struct{}{}
		}
	}

	g.adjacency = make(map[common.Address][]common.Address, len(adjacencySet))
	for token, set := range adjacencySet {
		neighbors := make([]common.Address, 0, len(set))
		for n := range set {
			neighbors = append(neighbors, n)
		}
		sort.Slice(neighbors, func(i, j int) bool {
			return neighbors[i].Cmp(neighbors[j]) < 0
		})
		g.adjacency[token] = neighbors
	}

	g.logger.Debug("Rebuilt liquidity graph",
		zap.Int("pools", len(g.pools)),
		zap.Int("skipped", skipped),
		zap.Int("pairs", len(g.pairIndex)),
		zap.Uint64("generation", g.generation),
	)
}

// Pool returns the pool for an id issued by the current generation.
func (g *Graph) Pool(id PoolID) *types.PoolState {
	return &g.pools[id]
}

// PoolsForPair returns the ids of every pool trading the (unordered) pair.
func (g *Graph) PoolsForPair(a, b common.Address) []PoolID {
	return g.pairIndex[pairKey(a, b)]
}

// ConnectedTokens returns the tokens directly tradable against token, in a
// stable order.
func (g *Graph) ConnectedTokens(token common.Address) []common.Address {
	return g.adjacency[token]
}

// Tokens returns every token present in the graph.
func (g *Graph) Tokens() []common.Address {
	tokens := make([]common.Address, 0, len(g.adjacency))
	for t := range g.adjacency {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Cmp(tokens[j]) < 0 })
	return tokens
}

// PoolCount returns the number of indexed pools.
func (g *Graph) PoolCount() int {
	return len(g.pools)
}

// Generation returns the rebuild counter, used to detect stale PoolIDs.
func (g *Graph) Generation() uint64 {
	return g.generation
}
