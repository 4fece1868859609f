package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/database"
	"storefront/internal/models"
)

// OrderLine is a requested product and quantity before pricing.
type OrderLine struct {
	ProductID primitive.ObjectID
	Quantity  int
}

// PaymentChange moves an order's paymentStatus from one of From to To.
// Empty provider fields are left untouched.
type PaymentChange struct {
	From []string
	To   string
	// ExpectedReference, when set, must equal the current payment reference.
	ExpectedReference string
	// KnownReference, when set, must be any reference ever issued for the order.
	KnownReference string

	Reference         string
	MerchantRequestID string
	Receipt           string
	Phone             string
	PayerEmail        string
	AmountPaid        float64
	ResultCode        *int
	ResultDesc        string
	IncrementAttempts bool

	Note string
	At   time.Time
}

// StatusChange moves an order's orderStatus from one of From to To.
type StatusChange struct {
	From []string
	To   string
	// PaymentFrom, when set, restricts the change to orders in one of these payment states.
	PaymentFrom []string
	// PaymentStatus, when set, is written alongside the order status.
	PaymentStatus string

	Note string
	At   time.Time
}

type OrderFilter struct {
	UserID        *primitive.ObjectID
	OrderStatus   string
	PaymentStatus string
	PaymentMethod string
}

type OrderStats struct {
	TotalOrders int64            `json:"totalOrders"`
	ByStatus    map[string]int64 `json:"byStatus"`
	PaidOrders  int64            `json:"paidOrders"`
	Revenue     float64          `json:"revenue"`
}

type OrderStore struct {
	client   *mongo.Client
	orders   *mongo.Collection
	products *mongo.Collection
}

func NewOrderStore(db *mongo.Database) *OrderStore {
	return &OrderStore{
		client:   db.Client(),
		orders:   db.Collection(database.OrdersCollection),
		products: db.Collection(database.ProductsCollection),
	}
}

// MergeLines folds repeated products into one line, keeping first-seen order.
func MergeLines(lines []OrderLine) []OrderLine {
	merged := make([]OrderLine, 0, len(lines))
	index := make(map[primitive.ObjectID]int, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

// PlaceOrder prices lines from the catalog, reserves stock and inserts order in a
// single transaction. order.Items and the price totals are overwritten.
func (s *OrderStore) PlaceOrder(ctx context.Context, order *models.Order, lines []OrderLine) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	lines = MergeLines(lines)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		items := make([]models.OrderItem, 0, len(lines))

		for _, line := range lines {
			var raw bson.M
			err := s.products.FindOne(sessCtx, bson.M{
				"_id":       line.ProductID,
				"isDeleted": bson.M{"$ne": true},
				"isActive":  bson.M{"$ne": false},
			}).Decode(&raw)
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ProductNotFoundError{ProductID: line.ProductID}
			}
			if err != nil {
				return nil, err
			}
			product, err := normalizeProductDocument(raw)
			if err != nil {
				return nil, err
			}

			stockErr := OutOfStockError{
				ProductID: line.ProductID,
				Name:      product.Name,
				Available: product.Stock,
				Requested: line.Quantity,
			}
			if product.Stock < line.Quantity {
				return nil, stockErr
			}

			res, err := s.products.UpdateOne(sessCtx,
				bson.M{
					"_id":       line.ProductID,
					"isDeleted": bson.M{"$ne": true},
					"stock":     bson.M{"$gte": line.Quantity},
				},
				bson.M{
					"$inc": bson.M{"stock": -line.Quantity},
					"$set": bson.M{"updatedAt": time.Now()},
				},
			)
			if err != nil {
				return nil, err
			}
			if res.MatchedCount == 0 {
				return nil, stockErr
			}

			items = append(items, models.OrderItem{
				ProductID: line.ProductID,
				Name:      product.Name,
				Image:     product.PrimaryImage(),
				Price:     product.EffectivePrice,
				Quantity:  line.Quantity,
			})
		}

		order.Items = items
		order.Recalculate()

		res, err := s.orders.InsertOne(sessCtx, order)
		if err != nil {
			return nil, translate(err)
		}
		if id, ok := res.InsertedID.(primitive.ObjectID); ok {
			order.ID = id
		}
		return nil, nil
	})
	return err
}

func (s *OrderStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var order models.Order
	if err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&order); err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// GetByPaymentReference finds the order that was issued provider reference ref,
// whether or not a later retry superseded it.
func (s *OrderStore) GetByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	if err := s.orders.FindOne(ctx, referenceFilter(ref)).Decode(&order); err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (s *OrderStore) List(ctx context.Context, f OrderFilter, page, limit int64) ([]models.Order, int64, error) {
	filter := orderQuery(f)

	total, err := s.orders.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(pageSkip(page, limit)).
		SetLimit(limit)

	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	orders := make([]models.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ChangePaymentStatus applies change atomically and returns the updated order.
// It returns ErrInvalidStatusTransition when the order exists but is not in a From state.
func (s *OrderStore) ChangePaymentStatus(ctx context.Context, id primitive.ObjectID, change PaymentChange) (*models.Order, error) {
	return s.findAndUpdate(ctx, s.orders, id, paymentFilter(id, change), paymentUpdate(change))
}

func paymentFilter(id primitive.ObjectID, change PaymentChange) bson.M {
	filter := bson.M{
		"_id":           id,
		"paymentStatus": bson.M{"$in": change.From},
	}
	if change.ExpectedReference != "" {
		filter["payment.reference"] = change.ExpectedReference
	}
	if change.KnownReference != "" {
		filter["$or"] = referenceFilter(change.KnownReference)["$or"]
	}
	return filter
}

func referenceFilter(ref string) bson.M {
	return bson.M{"$or": []bson.M{
		{"payment.reference": ref},
		{"payment.references": ref},
	}}
}

// ChangeOrderStatus applies change atomically and returns the updated order.
func (s *OrderStore) ChangeOrderStatus(ctx context.Context, id primitive.ObjectID, change StatusChange) (*models.Order, error) {
	return s.findAndUpdate(ctx, s.orders, id, statusFilter(id, change), statusUpdate(change))
}

// Cancel moves the order to cancelled and returns its items to stock in one transaction.
func (s *OrderStore) Cancel(ctx context.Context, id primitive.ObjectID, change StatusChange) (*models.Order, error) {
	change.To = models.OrderStatusCancelled

	session, err := s.client.StartSession()
	if err != nil {
		return nil, err
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		order, err := s.findAndUpdate(sessCtx, s.orders, id, statusFilter(id, change), statusUpdate(change))
		if err != nil {
			return nil, err
		}

		for _, item := range order.Items {
			_, err := s.products.UpdateOne(sessCtx,
				bson.M{"_id": item.ProductID},
				bson.M{
					"$inc": bson.M{"stock": item.Quantity},
					"$set": bson.M{"updatedAt": change.At},
				},
			)
			if err != nil {
				return nil, err
			}
		}
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Order), nil
}

func (s *OrderStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.orders.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *OrderStore) Stats(ctx context.Context) (*OrderStats, error) {
	cursor, err := s.orders.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$orderStatus",
			"count": bson.M{"$sum": 1},
			"paid": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$paymentStatus", models.PaymentStatusPaid}}, 1, 0},
			}},
			"revenue": bson.M{"$sum": bson.M{
				"$cond": bson.A{bson.M{"$eq": bson.A{"$paymentStatus", models.PaymentStatusPaid}}, "$totalPrice", 0},
			}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var groups []struct {
		Status  string  `bson:"_id"`
		Count   int64   `bson:"count"`
		Paid    int64   `bson:"paid"`
		Revenue float64 `bson:"revenue"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, err
	}

	stats := &OrderStats{ByStatus: map[string]int64{}}
	for _, g := range groups {
		stats.ByStatus[g.Status] = g.Count
		stats.TotalOrders += g.Count
		stats.PaidOrders += g.Paid
		stats.Revenue += g.Revenue
	}
	stats.Revenue = models.RoundMoney(stats.Revenue)
	return stats, nil
}

func (s *OrderStore) findAndUpdate(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID, filter, update bson.M) (*models.Order, error) {
	var order models.Order
	err := coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&order)
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	count, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrInvalidStatusTransition
}

func orderQuery(f OrderFilter) bson.M {
	filter := bson.M{}
	if f.UserID != nil {
		filter["userId"] = *f.UserID
	}
	if f.OrderStatus != "" {
		filter["orderStatus"] = f.OrderStatus
	}
	if f.PaymentStatus != "" {
		filter["paymentStatus"] = f.PaymentStatus
	}
	if f.PaymentMethod != "" {
		filter["paymentMethod"] = f.PaymentMethod
	}
	return filter
}

func paymentUpdate(change PaymentChange) bson.M {
	set := bson.M{
		"paymentStatus": change.To,
		"updatedAt":     change.At,
	}
	optional := map[string]string{
		"payment.reference":         change.Reference,
		"payment.merchantRequestId": change.MerchantRequestID,
		"payment.receipt":           change.Receipt,
		"payment.phone":             change.Phone,
		"payment.payerEmail":        change.PayerEmail,
		"payment.resultDesc":        change.ResultDesc,
	}
	for key, value := range optional {
		if value != "" {
			set[key] = value
		}
	}
	if change.AmountPaid > 0 {
		set["payment.amountPaid"] = change.AmountPaid
	}
	if change.ResultCode != nil {
		set["payment.resultCode"] = *change.ResultCode
	}
	if change.To == models.PaymentStatusPaid {
		set["paidAt"] = change.At
	}

	update := bson.M{
		"$set": set,
		"$push": bson.M{"statusHistory": models.StatusEntry{
			Status: "payment_" + change.To,
			Note:   change.Note,
			At:     change.At,
		}},
	}
	if change.Reference != "" {
		update["$addToSet"] = bson.M{"payment.references": change.Reference}
	}
	if change.IncrementAttempts {
		update["$inc"] = bson.M{"payment.attempts": 1}
	}
	return update
}

func statusFilter(id primitive.ObjectID, change StatusChange) bson.M {
	filter := bson.M{
		"_id":         id,
		"orderStatus": bson.M{"$in": change.From},
	}
	if len(change.PaymentFrom) > 0 {
		filter["paymentStatus"] = bson.M{"$in": change.PaymentFrom}
	}
	return filter
}

func statusUpdate(change StatusChange) bson.M {
	set := bson.M{
		"orderStatus": change.To,
		"updatedAt":   change.At,
	}
	switch change.To {
	case models.OrderStatusDelivered:
		set["deliveredAt"] = change.At
	case models.OrderStatusCancelled:
		set["cancelledAt"] = change.At
	}
	if change.PaymentStatus != "" {
		set["paymentStatus"] = change.PaymentStatus
		if change.PaymentStatus == models.PaymentStatusPaid {
			set["paidAt"] = change.At
		}
	}

	return bson.M{
		"$set": set,
		"$push": bson.M{"statusHistory": models.StatusEntry{
			Status: change.To,
			Note:   change.Note,
			At:     change.At,
		}},
	}
}
