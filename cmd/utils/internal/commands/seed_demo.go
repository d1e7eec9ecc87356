package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/internal/mongo"
	"github.com/appetiteclub/orderflow/internal/order"
	"github.com/appetiteclub/orderflow/pkg/enums/itemstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/enums/station"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type demoProduct struct {
	ID      uuid.UUID
	Name    string
	Price   string
	Station string
	Stock   int
}

var demoProducts = []demoProduct{
	{ID: uuid.MustParse("6f1c2a10-0000-4000-8000-000000000001"), Name: "Margherita", Price: "11.50", Station: station.Stations.Kitchen.Code(), Stock: 20},
	{ID: uuid.MustParse("6f1c2a10-0000-4000-8000-000000000002"), Name: "Caesar Salad", Price: "8.90", Station: station.Stations.Kitchen.Code(), Stock: 2},
	{ID: uuid.MustParse("6f1c2a10-0000-4000-8000-000000000003"), Name: "Lemonade", Price: "3.20", Station: station.Stations.Bar.Code(), Stock: 40},
	{ID: uuid.MustParse("6f1c2a10-0000-4000-8000-000000000004"), Name: "Tiramisu", Price: "6.00", Station: station.Stations.Dessert.Code(), Stock: 5},
}

type demoLine struct {
	product  int
	quantity int
	status   itemstatus.Status
}

type demoOrder struct {
	status orderstatus.Status
	lines  []demoLine
}

var demoOrders = []demoOrder{
	{status: orderstatus.Statuses.Ordered, lines: []demoLine{
		{product: 0, quantity: 2, status: itemstatus.Statuses.Inserted},
		{product: 2, quantity: 2, status: itemstatus.Statuses.Inserted},
	}},
	{status: orderstatus.Statuses.Preparing, lines: []demoLine{
		{product: 1, quantity: 1, status: itemstatus.Statuses.InProgress},
		{product: 3, quantity: 1, status: itemstatus.Statuses.Inserted},
	}},
	{status: orderstatus.Statuses.Ready, lines: []demoLine{
		{product: 0, quantity: 1, status: itemstatus.Statuses.Ready},
	}},
}

// SeedDemo stores a few open orders and the stock counters for their
// products.
func SeedDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	base, err := connect(ctx, config, logger)
	if err != nil {
		return err
	}
	defer base.Stop(ctx)

	db := base.GetDatabase()
	orders := mongo.NewOrderRepo(db)
	products := mongo.NewProductRepo(db)

	for _, p := range demoProducts {
		current, err := products.AdjustAvailable(ctx, p.ID, 0)
		if err != nil {
			return fmt.Errorf("read stock for %s: %w", p.Name, err)
		}
		if _, err := products.AdjustAvailable(ctx, p.ID, p.Stock-current); err != nil {
			return fmt.Errorf("set stock for %s: %w", p.Name, err)
		}
		logger.Info("Seeded product stock", "product", p.Name, "available", p.Stock)
	}

	for i, d := range demoOrders {
		table := uuid.New()
		items := make([]order.LineItem, 0, len(d.lines))
		for _, l := range d.lines {
			p := demoProducts[l.product]
			items = append(items, order.LineItem{
				ProductID: p.ID,
				Name:      p.Name,
				Quantity:  l.quantity,
				UnitPrice: decimal.RequireFromString(p.Price),
				Station:   p.Station,
				Status:    l.status.Code(),
			})
		}
		o := order.New(&table, items)
		o.CustomerRef = DemoRef
		o.Status = d.status.Code()

		if err := orders.SaveOrder(ctx, o); err != nil {
			return fmt.Errorf("save demo order %d: %w", i+1, err)
		}
		logger.Info("Seeded demo order", "order_id", o.ID.String(), "status", o.Status, "total", o.Total.StringFixed(2))
	}
	return nil
}
