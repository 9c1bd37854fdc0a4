// Package nonce hands out gap-free transaction nonces per signer. The chain's
// pending nonce anchors the sequence; after that the manager is the single
// writer, so concurrent reservations never collide or skip.
package nonce

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Client is the subset of the ethclient surface the manager needs.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type accountState struct {
	mu       sync.Mutex
	next     uint64
	anchored bool
}

// Manager tracks the next nonce for each signer.
type Manager struct {
	client Client
	logger *zap.Logger

	mu       sync.Mutex
	accounts map[common.Address]*accountState
}

// NewManager creates a nonce manager.
func NewManager(client Client, logger *zap.Logger) *Manager {
	return &Manager{
		client:   client,
		logger:   logger,
		accounts: make(map[common.Address]*accountState),
	}
}

func (m *Manager) state(account common.Address) *accountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.accounts[account]
	if !ok {
		st = &accountState{}
		m.accounts[account] = st
	}
	return st
}

// Reserve returns the next nonce for account and advances the sequence. The
// first reservation anchors at the chain's pending nonce. Concurrent calls
// receive distinct consecutive values.
func (m *Manager) Reserve(ctx context.Context, account common.Address) (uint64, error) {
	st := m.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.anchored {
		pending, err := m.client.PendingNonceAt(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch pending nonce for %s: %w", account.Hex(), err)
		}
		st.next = pending
		st.anchored = true
		m.logger.Debug("Anchored nonce sequence",
			zap.String("account", account.Hex()),
			zap.Uint64("nonce", pending),
		)
	}

	nonce := st.next
	st.next++
	return nonce, nil
}

// SyncWithChain re-anchors the sequence at the chain's pending nonce. Called
// after a failed broadcast leaves local state ahead of (or behind) the chain.
func (m *Manager) SyncWithChain(ctx context.Context, account common.Address) (uint64, error) {
	st := m.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	pending, err := m.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to sync nonce for %s: %w", account.Hex(), err)
	}

	if st.anchored && pending != st.next {
		m.logger.Warn("Nonce drift detected, re-anchoring",
			zap.String("account", account.Hex()),
			zap.Uint64("local", st.next),
			zap.Uint64("chain", pending),
		)
	}
	st.next = pending
	st.anchored = true
	return pending, nil
}

// Next returns the nonce that the following Reserve would hand out, without
// advancing. Returns false when the account is not yet anchored.
func (m *Manager) Next(account common.Address) (uint64, bool) {
	st := m.state(account)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.next, st.anchored
}
