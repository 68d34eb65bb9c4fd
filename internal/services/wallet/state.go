package wallet

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/hive/internal/domain"
)

// WalletState is the persisted form of one wallet.
type WalletState struct {
	Wallet    domain.Wallet        `json:"wallet"`
	Children  []string             `json:"children,omitempty"`
	Principal decimal.Decimal      `json:"principal"`
	Equity    []domain.EquityPoint `json:"equity,omitempty"`
}

// RootState is the persisted scheduling state of one hierarchy.
type RootState struct {
	ID            string    `json:"id"`
	LastRebalance time.Time `json:"last_rebalance"`
}

// State is a serializable snapshot of every hierarchy.
type State struct {
	SavedAt time.Time            `json:"saved_at"`
	Roots   []RootState          `json:"roots"`
	Wallets []WalletState        `json:"wallets"`
	Ledger  []domain.Transaction `json:"ledger,omitempty"`
}

// Snapshot captures all hierarchies. Each root is locked while it is copied.
func (h *Hierarchy) Snapshot() State {
	ids := h.Roots()
	sort.Strings(ids)

	st := State{SavedAt: h.now()}
	for _, id := range ids {
		root, err := h.lockRootOf(id)
		if err != nil {
			continue
		}
		st.Roots = append(st.Roots, RootState{ID: id, LastRebalance: root.lastRebalance})
		h.walk(id, func(n *node) {
			st.Wallets = append(st.Wallets, WalletState{
				Wallet:    n.wallet,
				Children:  append([]string(nil), n.children...),
				Principal: n.principal,
				Equity:    append([]domain.EquityPoint(nil), n.equity...),
			})
		})
		root.mu.Unlock()
	}
	st.Ledger = h.Ledger(0)
	return st
}

// Restore replaces the registry with st. It refuses snapshots that break the
// balance invariant or reference missing wallets.
func (h *Hierarchy) Restore(st State) error {
	nodes := make(map[string]*node, len(st.Wallets))
	for _, ws := range st.Wallets {
		if !ws.Wallet.Balance.Consistent() {
			return domain.Validation("wallet %s: inconsistent balance in snapshot", ws.Wallet.ID)
		}
		nodes[ws.Wallet.ID] = &node{
			wallet:    ws.Wallet,
			children:  append([]string(nil), ws.Children...),
			principal: ws.Principal,
			equity:    append([]domain.EquityPoint(nil), ws.Equity...),
		}
	}
	for id, n := range nodes {
		if n.wallet.ParentID != "" {
			if _, ok := nodes[n.wallet.ParentID]; !ok {
				return domain.Validation("wallet %s: parent %s missing from snapshot", id, n.wallet.ParentID)
			}
		}
		for _, cid := range n.children {
			if _, ok := nodes[cid]; !ok {
				return domain.Validation("wallet %s: child %s missing from snapshot", id, cid)
			}
		}
	}

	roots := make(map[string]*rootState, len(st.Roots))
	for _, rs := range st.Roots {
		n, ok := nodes[rs.ID]
		if !ok || !n.wallet.IsRoot() {
			return domain.Validation("root %s missing from snapshot", rs.ID)
		}
		roots[rs.ID] = &rootState{lastRebalance: rs.LastRebalance}
	}
	for id, n := range nodes {
		if _, ok := roots[id]; n.wallet.ParentID == "" && !ok {
			return domain.Validation("root %s missing from snapshot", id)
		}
	}

	h.mu.Lock()
	h.nodes = nodes
	h.roots = roots
	h.mu.Unlock()

	h.ledgerMu.Lock()
	h.ledger = append([]domain.Transaction(nil), st.Ledger...)
	h.ledgerMu.Unlock()

	h.perf.Invalidate()
	return nil
}
