package app

import (
	"context"
	"log/slog"

	"github.com/dejobratic/checkout/internal/checkout/app/commands"
	"github.com/dejobratic/checkout/internal/checkout/app/queries"
	"github.com/dejobratic/checkout/internal/checkout/domain"
	"github.com/dejobratic/checkout/internal/checkout/metrics"
	"github.com/dejobratic/checkout/internal/checkout/ports"
)

// Dependencies are the collaborators the checkout service is built from.
// Verifier, Cache and Metrics are optional. A nil Logger falls back to slog.Default.
type Dependencies struct {
	UnitOfWork  ports.UnitOfWork
	Gateway     ports.PaymentGateway
	Verifier    ports.PaymentVerifier
	Classifier  ports.StatusClassifier
	Cache       ports.CartCache
	Idempotency ports.IdempotencyStore
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Config carries the tunables of the payment flow.
type Config struct {
	PurchaseOrderPrefix string
	MaxPaymentAttempts  int
}

// Service bundles the checkout use cases for the API.
type Service struct {
	cache     ports.CartCache
	idemStore ports.IdempotencyStore
	logger    *slog.Logger

	addLine     commands.Handler[commands.AddCartLineCommand, *domain.Cart]
	setQuantity commands.Handler[commands.SetCartLineQuantityCommand, *domain.Cart]
	removeLine  commands.Handler[commands.RemoveCartLineCommand, *domain.Cart]
	placeOrder  commands.Handler[commands.PlaceOrderCommand, *domain.Order]
	initiate    commands.Handler[commands.InitiatePaymentCommand, *commands.InitiatePaymentResult]
	reconcile   commands.Handler[commands.ReconcilePaymentCommand, *commands.ReconciliationResult]
	cancel      commands.Handler[commands.CancelOrderCommand, *domain.Order]

	getCart    *queries.GetCartQueryHandler
	getOrder   *queries.GetOrderQueryHandler
	listOrders *queries.ListOrdersQueryHandler
}

// NewService wires required dependencies.
func NewService(deps Dependencies, cfg Config) *Service {
	uow, logger, m := deps.UnitOfWork, deps.Logger, deps.Metrics
	if logger == nil {
		logger = slog.Default()
	}

	carts := commands.NewCartCommandHandler(uow)

	return &Service{
		cache:     deps.Cache,
		idemStore: deps.Idempotency,
		logger:    logger,

		addLine:     commands.NewObservableHandler(carts.AddLineHandler(), logger, m),
		setQuantity: commands.NewObservableHandler(carts.SetQuantityHandler(), logger, m),
		removeLine:  commands.NewObservableHandler(carts.RemoveLineHandler(), logger, m),
		placeOrder: commands.NewObservableHandler[commands.PlaceOrderCommand, *domain.Order](
			commands.NewPlaceOrderCommandHandler(uow), logger, m),
		initiate: commands.NewObservableHandler[commands.InitiatePaymentCommand, *commands.InitiatePaymentResult](
			commands.NewInitiatePaymentCommandHandler(uow, deps.Gateway, commands.InitiatePaymentConfig{
				PurchaseOrderPrefix: cfg.PurchaseOrderPrefix,
				MaxAttempts:         cfg.MaxPaymentAttempts,
			}), logger, m),
		reconcile: commands.NewObservableHandler[commands.ReconcilePaymentCommand, *commands.ReconciliationResult](
			commands.NewReconcilePaymentCommandHandler(uow, deps.Classifier, deps.Verifier, m), logger, m),
		cancel: commands.NewObservableHandler[commands.CancelOrderCommand, *domain.Order](
			commands.NewCancelOrderCommandHandler(uow), logger, m),

		getCart:    queries.NewGetCartQueryHandler(uow, deps.Cache, logger),
		getOrder:   queries.NewGetOrderQueryHandler(uow),
		listOrders: queries.NewListOrdersQueryHandler(uow),
	}
}

// AddCartLineInput captures payload for adding a product to the cart.
type AddCartLineInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (s *Service) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	return s.getCart.Handle(ctx, queries.GetCartQuery{OwnerID: ownerID})
}

func (s *Service) AddCartLine(ctx context.Context, ownerID string, input AddCartLineInput) (*domain.Cart, error) {
	cart, err := s.addLine.Handle(ctx, commands.AddCartLineCommand{OwnerID: ownerID, ProductID: input.ProductID, Quantity: input.Quantity})
	s.invalidateCart(ctx, ownerID)
	return cart, err
}

func (s *Service) SetCartLineQuantity(ctx context.Context, ownerID, lineID string, qty int) (*domain.Cart, error) {
	cart, err := s.setQuantity.Handle(ctx, commands.SetCartLineQuantityCommand{OwnerID: ownerID, LineID: lineID, Quantity: qty})
	s.invalidateCart(ctx, ownerID)
	return cart, err
}

func (s *Service) RemoveCartLine(ctx context.Context, ownerID, lineID string) (*domain.Cart, error) {
	cart, err := s.removeLine.Handle(ctx, commands.RemoveCartLineCommand{OwnerID: ownerID, LineID: lineID})
	s.invalidateCart(ctx, ownerID)
	return cart, err
}

// PlaceOrder converts the caller's cart into an order.
func (s *Service) PlaceOrder(ctx context.Context, ownerID string) (*domain.Order, error) {
	order, err := s.placeOrder.Handle(ctx, commands.PlaceOrderCommand{OwnerID: ownerID})
	s.invalidateCart(ctx, ownerID)
	return order, err
}

func (s *Service) GetOrder(ctx context.Context, ownerID, orderID string) (*queries.OrderView, error) {
	return s.getOrder.Handle(ctx, queries.GetOrderQuery{OwnerID: ownerID, OrderID: orderID})
}

func (s *Service) ListOrders(ctx context.Context, ownerID string) ([]domain.Order, error) {
	return s.listOrders.Handle(ctx, queries.ListOrdersQuery{OwnerID: ownerID})
}

func (s *Service) CancelOrder(ctx context.Context, ownerID, orderID string) (*domain.Order, error) {
	return s.cancel.Handle(ctx, commands.CancelOrderCommand{OwnerID: ownerID, OrderID: orderID})
}

func (s *Service) InitiatePayment(ctx context.Context, ownerID, orderID string) (*commands.InitiatePaymentResult, error) {
	return s.initiate.Handle(ctx, commands.InitiatePaymentCommand{OwnerID: ownerID, OrderID: orderID})
}

// ReconcilePayment applies a gateway callback.
func (s *Service) ReconcilePayment(ctx context.Context, cmd commands.ReconcilePaymentCommand) (*commands.ReconciliationResult, error) {
	return s.reconcile.Handle(ctx, cmd)
}

// SaveIdempotentResponse writes response details for a key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// GetIdempotentResponse retrieves previously stored response data for the owner's key.
func (s *Service) GetIdempotentResponse(ctx context.Context, ownerID, key string) (*ports.StoredResponse, error) {
	return s.idemStore.Get(ctx, ownerID, key)
}

// invalidateCart drops the cached cart after any mutation attempt.
func (s *Service) invalidateCart(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		s.logger.WarnContext(ctx, "cart cache invalidation failed", "owner.id", ownerID, "error", err)
	}
}
