package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shinyyama/flora-backend/internal/event"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/shinyyama/flora-backend/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UID  string
	Role string
}

// CartLine is one entry of the buyer's cart as handed to CreateOrder.
type CartLine struct {
	FlowerID uint64 `validate:"required"`
	Quantity int    `validate:"gt=0"`
}

type CreateOrderInput struct {
	BuyerUID        string     `validate:"required"`
	DeliveryAddress string     `validate:"required"`
	BuyerContact    string     `validate:"required"`
	Items           []CartLine `validate:"required,min=1,dive"`
}

// SellerOrder is an order as one seller sees it: only that seller's lines,
// plus what those lines are worth.
type SellerOrder struct {
	Order          model.Order
	SellerSubtotal decimal.Decimal
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, orderID uint64, uid string) (*model.Order, error)
	GetOrdersForBuyer(ctx context.Context, buyerUID string) ([]model.Order, error)
	GetOrdersForSeller(ctx context.Context, sellerUID string) ([]SellerOrder, error)
	AdvanceStatus(ctx context.Context, orderID uint64, actor Actor) (*model.Order, error)
}

type orderService struct {
	orders   repository.OrderRepository
	catalog  Catalog
	validate *validator.Validate
	effects  sideEffects
}

func NewOrderService(orders repository.OrderRepository, catalog Catalog, notify NotificationService, events event.Publisher, log *zap.Logger) OrderService {
	return &orderService{
		orders:   orders,
		catalog:  catalog,
		validate: validator.New(),
		effects:  newSideEffects(notify, events, log),
	}
}

func (s *orderService) validateInput(in CreateOrderInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("", "%v", err)
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "CreateOrderInput.")
	switch fe.Tag() {
	case "required":
		return invalid(field, "is required")
	case "min":
		return invalid(field, "must contain at least %s entries", fe.Param())
	case "gt":
		return invalid(field, "must be greater than %s", fe.Param())
	default:
		return invalid(field, "failed %s validation", fe.Tag())
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	in.BuyerUID = strings.TrimSpace(in.BuyerUID)
	in.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	in.BuyerContact = strings.TrimSpace(in.BuyerContact)
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	products := make([]*Product, len(in.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, line := range in.Items {
		i, line := i, line
		g.Go(func() error {
			p, err := s.catalog.ResolveProduct(gctx, line.FlowerID)
			if err != nil {
				if errors.Is(err, ErrProductUnavailable) {
					return invalid(fmt.Sprintf("Items[%d].FlowerID", i), "product %d is unavailable", line.FlowerID)
				}
				return fmt.Errorf("resolve product %d: %w", line.FlowerID, err)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := decimal.Zero
	items := make([]model.OrderItem, len(in.Items))
	for i, line := range in.Items {
		p := products[i]
		items[i] = model.OrderItem{
			FlowerID:  p.ID,
			SellerUID: p.SellerUID,
			Name:      p.Name,
			UnitPrice: p.UnitPrice,
			Quantity:  line.Quantity,
		}
		total = total.Add(items[i].LineTotal())
	}
	if !total.IsPositive() {
		return nil, invalid("Items", "order total must be positive")
	}

	o := &model.Order{
		BuyerUID:        in.BuyerUID,
		DeliveryAddress: in.DeliveryAddress,
		BuyerContact:    in.BuyerContact,
		TotalPrice:      total,
		Status:          model.OrderStatusPending,
		Paid:            false,
		Items:           items,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	for _, seller := range o.SellerUIDs() {
		s.effects.notifyUser(ctx, seller, model.NotificationTypeNewOrder,
			"New order", fmt.Sprintf("Order #%d includes your flowers.", o.ID), o.ID)
	}
	s.effects.publish(ctx, event.TypeOrderCreated, o.ID, event.OrderCreated{
		BuyerUID:   o.BuyerUID,
		SellerUIDs: o.SellerUIDs(),
		Total:      o.TotalPrice.StringFixed(2),
		ItemCount:  len(o.Items),
	})
	return o, nil
}

func (s *orderService) find(ctx context.Context, orderID uint64) (*model.Order, error) {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// GetOrder returns the order to its buyer in full and to a seller narrowed to
// their own lines.
func (s *orderService) GetOrder(ctx context.Context, orderID uint64, uid string) (*model.Order, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if uid == o.BuyerUID {
		return o, nil
	}
	if !o.HasSeller(uid) {
		return nil, ErrForbidden
	}
	o.Items = sellerLines(o.Items, uid)
	return o, nil
}

func sellerLines(items []model.OrderItem, uid string) []model.OrderItem {
	out := make([]model.OrderItem, 0, len(items))
	for _, it := range items {
		if it.SellerUID == uid {
			out = append(out, it)
		}
	}
	return out
}

func (s *orderService) GetOrdersForBuyer(ctx context.Context, buyerUID string) ([]model.Order, error) {
	if buyerUID == "" {
		return []model.Order{}, nil
	}
	return s.orders.ListByBuyer(ctx, buyerUID)
}

func (s *orderService) GetOrdersForSeller(ctx context.Context, sellerUID string) ([]SellerOrder, error) {
	if sellerUID == "" {
		return []SellerOrder{}, nil
	}
	list, err := s.orders.ListBySeller(ctx, sellerUID)
	if err != nil {
		return nil, err
	}
	out := make([]SellerOrder, 0, len(list))
	for _, o := range list {
		subtotal := decimal.Zero
		for _, it := range o.Items {
			subtotal = subtotal.Add(it.LineTotal())
		}
		out = append(out, SellerOrder{Order: o, SellerSubtotal: subtotal})
	}
	return out, nil
}

// AdvanceStatus moves the order one step along pending, processing,
// delivered. A delivered order is returned unchanged. When another request
// advanced the order first, the current row is returned without a second step.
func (s *orderService) AdvanceStatus(ctx context.Context, orderID uint64, actor Actor) (*model.Order, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleSeller || !o.HasSeller(actor.UID) {
		return nil, ErrForbidden
	}

	from := o.Status
	next, ok := from.Next()
	if !ok {
		return o, nil
	}
	n, err := s.orders.AdvanceStatusIf(ctx, o.ID, from, next)
	if err != nil {
		return nil, fmt.Errorf("advance status: %w", err)
	}
	current, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return current, nil
	}

	s.effects.notifyUser(ctx, o.BuyerUID, model.NotificationTypeStatusChanged,
		"Order update", fmt.Sprintf("Order #%d is now %s.", o.ID, next), o.ID)
	s.effects.publish(ctx, event.TypeOrderStatusAdvanced, o.ID, event.OrderStatusAdvanced{
		From:     string(from),
		To:       string(next),
		ActorUID: actor.UID,
	})
	return current, nil
}
