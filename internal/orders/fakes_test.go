package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/events"
	"storefront/internal/models"
	"storefront/internal/payments/mpesa"
	"storefront/internal/payments/paypal"
	"storefront/internal/store"
)

type fakeProduct struct {
	name  string
	price float64
	stock int
}

type fakeRepo struct {
	mu       sync.Mutex
	orders   map[primitive.ObjectID]*models.Order
	products map[primitive.ObjectID]*fakeProduct
	placeErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:   map[primitive.ObjectID]*models.Order{},
		products: map[primitive.ObjectID]*fakeProduct{},
	}
}

func (r *fakeRepo) addProduct(name string, price float64, stock int) primitive.ObjectID {
	id := primitive.NewObjectID()
	r.products[id] = &fakeProduct{name: name, price: price, stock: stock}
	return id
}

func (r *fakeRepo) PlaceOrder(_ context.Context, order *models.Order, lines []store.OrderLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.placeErr != nil {
		return r.placeErr
	}
	for _, line := range store.MergeLines(lines) {
		p, ok := r.products[line.ProductID]
		if !ok {
			return store.ProductNotFoundError{ProductID: line.ProductID}
		}
		if p.stock < line.Quantity {
			return store.OutOfStockError{ProductID: line.ProductID, Name: p.name, Available: p.stock, Requested: line.Quantity}
		}
	}
	for _, line := range store.MergeLines(lines) {
		p := r.products[line.ProductID]
		p.stock -= line.Quantity
		order.Items = append(order.Items, models.OrderItem{
			ProductID: line.ProductID,
			Name:      p.name,
			Price:     p.price,
			Quantity:  line.Quantity,
		})
	}
	order.Recalculate()
	order.ID = primitive.NewObjectID()
	r.orders[order.ID] = clone(order)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(o), nil
}

func (r *fakeRepo) GetByPaymentReference(_ context.Context, ref string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Payment.Reference == ref || slices.Contains(o.Payment.References, ref) {
			return clone(o), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) List(_ context.Context, f store.OrderFilter, _, _ int64) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if f.UserID != nil && !o.BelongsTo(*f.UserID) {
			continue
		}
		out = append(out, *clone(o))
	}
	return out, int64(len(out)), nil
}

func (r *fakeRepo) ChangePaymentStatus(_ context.Context, id primitive.ObjectID, c store.PaymentChange) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(c.From, o.PaymentStatus) ||
		(c.ExpectedReference != "" && o.Payment.Reference != c.ExpectedReference) ||
		(c.KnownReference != "" && o.Payment.Reference != c.KnownReference && !slices.Contains(o.Payment.References, c.KnownReference)) {
		return nil, store.ErrInvalidStatusTransition
	}
	o.PaymentStatus = c.To
	if c.Reference != "" {
		o.Payment.Reference = c.Reference
		if !slices.Contains(o.Payment.References, c.Reference) {
			o.Payment.References = append(o.Payment.References, c.Reference)
		}
	}
	if c.Receipt != "" {
		o.Payment.Receipt = c.Receipt
	}
	if c.Phone != "" {
		o.Payment.Phone = c.Phone
	}
	if c.AmountPaid > 0 {
		o.Payment.AmountPaid = c.AmountPaid
	}
	if c.IncrementAttempts {
		o.Payment.Attempts++
	}
	if c.To == models.PaymentStatusPaid {
		at := c.At
		o.PaidAt = &at
	}
	o.StatusHistory = append(o.StatusHistory, models.StatusEntry{Status: "payment_" + c.To, Note: c.Note, At: c.At})
	return clone(o), nil
}

func (r *fakeRepo) ChangeOrderStatus(_ context.Context, id primitive.ObjectID, c store.StatusChange) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changeStatus(id, c)
}

func (r *fakeRepo) changeStatus(id primitive.ObjectID, c store.StatusChange) (*models.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(c.From, o.OrderStatus) || (len(c.PaymentFrom) > 0 && !slices.Contains(c.PaymentFrom, o.PaymentStatus)) {
		return nil, store.ErrInvalidStatusTransition
	}
	o.OrderStatus = c.To
	if c.PaymentStatus != "" {
		o.PaymentStatus = c.PaymentStatus
	}
	o.StatusHistory = append(o.StatusHistory, models.StatusEntry{Status: c.To, Note: c.Note, At: c.At})
	return clone(o), nil
}

func (r *fakeRepo) Cancel(_ context.Context, id primitive.ObjectID, c store.StatusChange) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.To = models.OrderStatusCancelled
	o, err := r.changeStatus(id, c)
	if err != nil {
		return nil, err
	}
	for _, item := range o.Items {
		if p, ok := r.products[item.ProductID]; ok {
			p.stock += item.Quantity
		}
	}
	return o, nil
}

func (r *fakeRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *fakeRepo) Stats(context.Context) (*store.OrderStats, error) {
	return &store.OrderStats{}, nil
}

func clone(o *models.Order) *models.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.Payment.References = slices.Clone(o.Payment.References)
	c.StatusHistory = slices.Clone(o.StatusHistory)
	return &c
}

type fakeFees map[string]float64

func (f fakeFees) ResolveFee(_ context.Context, county, subCounty, location string) (float64, error) {
	fee, ok := f[county+"/"+subCounty+"/"+location]
	if !ok {
		return 0, errors.New("unknown location")
	}
	return fee, nil
}

type fakeMpesa struct {
	mu     sync.Mutex
	err    error
	pushes []mpesa.STKPushInput
}

func (m *fakeMpesa) STKPush(_ context.Context, in mpesa.STKPushInput) (*mpesa.STKPushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, in)
	if m.err != nil {
		return nil, m.err
	}
	return &mpesa.STKPushResult{
		MerchantRequestID: "merchant-1",
		CheckoutRequestID: fmt.Sprintf("ws_CO_%s_%d", in.AccountReference, len(m.pushes)),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

type fakePayPal struct {
	createErr  error
	capture    *paypal.Capture
	captureErr error
	created    []paypal.CreateOrderInput
	captured   []string
}

func (p *fakePayPal) CreateOrder(_ context.Context, in paypal.CreateOrderInput) (*paypal.Order, error) {
	p.created = append(p.created, in)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &paypal.Order{ID: "PP-ORDER-1", Status: "CREATED", ApproveURL: "https://www.sandbox.paypal.com/checkoutnow?token=PP-ORDER-1"}, nil
}

func (p *fakePayPal) CaptureOrder(_ context.Context, orderID string) (*paypal.Capture, error) {
	p.captured = append(p.captured, orderID)
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	return p.capture, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}
