package service

import (
	"fmt"

	"github.com/Nexus-orgs/sypot-payments/internal/adapter/secondary/gateway"
	"github.com/Nexus-orgs/sypot-payments/internal/core"
)

// Gateways holds the configured gateway adapters, looked up either by the
// payment method a caller requested or by the network that settled a
// transaction already in the ledger.
type Gateways struct {
	byName map[core.Gateway]gateway.Adapter
}

// NewGateways registers the given adapters
func NewGateways(adapters ...gateway.Adapter) *Gateways {
	g := &Gateways{byName: make(map[core.Gateway]gateway.Adapter)}
	for _, a := range adapters {
		g.byName[a.Name()] = a
	}
	return g
}

// ForMethod returns the adapter that settles the given payment method
func (g *Gateways) ForMethod(method core.PaymentMethod) (gateway.Adapter, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}
	return g.ForGateway(method.Gateway())
}

// ForGateway returns the adapter for a gateway by name
func (g *Gateways) ForGateway(name core.Gateway) (gateway.Adapter, error) {
	a, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for gateway %q", name)
	}
	return a, nil
}
