package service

import (
	"github.com/Nexus-orgs/sypot-payments/internal/port/input"
	"github.com/Nexus-orgs/sypot-payments/internal/port/output"
)

// Settlement implements the SettlementService input port by composing the
// settlement engine with the refund coordinator.
type Settlement struct {
	*SettlementEngine
	*RefundCoordinator
}

// NewSettlement wires the engine and coordinator over one store
func NewSettlement(store output.SettlementStore, gateways *Gateways, reconcile output.ReconcileQueue, cfg Config) input.SettlementService {
	return &Settlement{
		SettlementEngine:  NewSettlementEngine(store, gateways, reconcile, cfg),
		RefundCoordinator: NewRefundCoordinator(store, gateways),
	}
}
