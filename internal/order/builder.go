package order

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/execsync/internal/config"
	"github.com/alanyoungcy/execsync/internal/domain"
)

// Ticket is a contract and the order to place on it. The order id is
// assigned at placement time.
type Ticket struct {
	Contract domain.Contract
	Order    domain.Order
}

// Build turns one configured order into a ticket for clientID. Missing
// contract fields take the usual stock defaults (STK, SMART, USD).
func Build(cfg config.OrderConfig, clientID int64) (Ticket, error) {
	contract := domain.Contract{
		Symbol:          strings.ToUpper(strings.TrimSpace(cfg.Symbol)),
		SecType:         orDefault(cfg.SecType, "STK"),
		Exchange:        orDefault(cfg.Exchange, "SMART"),
		PrimaryExchange: cfg.PrimaryExchange,
		Currency:        orDefault(cfg.Currency, "USD"),
	}
	if contract.Symbol == "" {
		return Ticket{}, fmt.Errorf("order: symbol is empty: %w", domain.ErrInvalidOrder)
	}

	o := domain.Order{
		ClientID:      clientID,
		Account:       cfg.Account,
		Action:        domain.OrderAction(strings.ToUpper(cfg.Action)),
		TotalQuantity: cfg.Quantity,
		Type:          domain.OrderType(strings.ToUpper(orDefault(cfg.Type, string(domain.OrderTypeMarket)))),
	}
	if o.Type == domain.OrderTypeLimit {
		o.LmtPrice = cfg.LimitPrice
	}
	if err := o.Validate(); err != nil {
		return Ticket{}, fmt.Errorf("order: %s %s %s: %w", o.Action, o.TotalQuantity, contract.Symbol, err)
	}
	if err := FillAlgoParams(&o, cfg.Algo.Strategy, cfg.Algo.Params); err != nil {
		return Ticket{}, err
	}
	return Ticket{Contract: contract, Order: o}, nil
}

// BuildAll builds every configured order, stopping at the first invalid one.
func BuildAll(cfgs []config.OrderConfig, clientID int64) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(cfgs))
	for i, c := range cfgs {
		t, err := Build(c, clientID)
		if err != nil {
			return nil, fmt.Errorf("orders[%d]: %w", i, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
