package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"algotrader/src/database"
	"algotrader/src/model"
)

// OrderRepository handles persistence for broker orders and their execution
// logs. Every status change goes through ApplyStatusUpdate so the state
// machine in model.CanTransitionOrderStatus is enforced in exactly one
// place.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main
// read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateWithAutoLog inserts the order and its first execution log row in a
// single transaction, so a crash can never leave an order without its audit
// trail.
func (r *OrderRepository) CreateWithAutoLog(
	ctx context.Context,
	order *model.Order,
	reason string,
) error {

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		log := model.OrderExecutionLog{
			OrderID:       order.ID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			OrderType:     order.OrderType,
			Quantity:      order.Quantity,
			Price:         order.LimitPrice,
			BrokerOrderID: order.BrokerOrderID,
			Status:        order.Status,
			Reason:        reason,
		}

		return tx.Create(&log).Error
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":            "OrderRepository",
			"op":              "CreateWithAutoLog",
			"client_order_id": order.ClientOrderID,
			"symbol":          order.Symbol,
		}).WithError(err).Error("Failed to create order")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":            "OrderRepository",
		"op":              "CreateWithAutoLog",
		"order_id":        order.ID,
		"client_order_id": order.ClientOrderID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"quantity":        order.Quantity,
	}).Info("Order created")

	return nil
}

// StatusUpdate describes one observed change to an order, regardless of
// whether it arrived from a submission response, a status poll or the
// order stream.
type StatusUpdate struct {
	Status         string
	BrokerOrderID  string
	BrokerStatus   string
	BrokerMessage  string
	FilledQuantity int64
	AveragePrice   float64
	Reason         string
}

// ApplyStatusUpdate moves the order to update.Status if the state machine
// allows it, writing the execution log row in the same transaction. It
// returns applied=false without error when the transition is refused, which
// is how stale or duplicate broker callbacks become no-ops.
func (r *OrderRepository) ApplyStatusUpdate(
	ctx context.Context,
	orderID uint,
	update StatusUpdate,
) (applied bool, order *model.Order, err error) {

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.Order

		if err := tx.First(&current, orderID).Error; err != nil {
			return err
		}

		allowed := model.CanTransitionOrderStatus(current.Status, update.Status) ||
			model.AllowsFillProgress(current.Status, update.Status,
				int64(current.FilledQuantity), update.FilledQuantity)

		if !allowed {
			logger.WithFields(map[string]interface{}{
				"repo":     "OrderRepository",
				"op":       "ApplyStatusUpdate",
				"order_id": orderID,
				"from":     current.Status,
				"to":       update.Status,
			}).Debug("Status transition refused, ignoring update")

			order = &current
			return nil
		}

		now := time.Now()
		changes := map[string]interface{}{
			"status":     update.Status,
			"updated_at": now,
		}
		if update.BrokerOrderID != "" {
			changes["broker_order_id"] = update.BrokerOrderID
		}
		if update.BrokerStatus != "" {
			changes["broker_status"] = update.BrokerStatus
		}
		if update.BrokerMessage != "" {
			changes["broker_message"] = update.BrokerMessage
		}
		if update.Status == model.OrderStatusRejected || update.Status == model.OrderStatusError {
			changes["failure_reason"] = update.Reason
		}
		if update.FilledQuantity > 0 {
			changes["filled_quantity"] = update.FilledQuantity
		}
		if update.AveragePrice > 0 {
			changes["average_price"] = update.AveragePrice
		}
		if update.Status == model.OrderStatusSubmitted {
			changes["submitted_at"] = now
		}

		if err := tx.Model(&current).Updates(changes).Error; err != nil {
			return err
		}

		log := model.OrderExecutionLog{
			OrderID:       current.ID,
			Symbol:        current.Symbol,
			Side:          current.Side,
			OrderType:     current.OrderType,
			Quantity:      current.Quantity,
			Price:         current.LimitPrice,
			BrokerOrderID: current.BrokerOrderID,
			Status:        update.Status,
			Reason:        update.Reason,
		}
		if err := tx.Create(&log).Error; err != nil {
			return err
		}

		applied = true
		order = &current
		return nil
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "ApplyStatusUpdate",
			"order_id": orderID,
			"to":       update.Status,
		}).WithError(err).Error("Failed to apply order status update")

		return false, nil, err
	}

	if applied {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "ApplyStatusUpdate",
			"order_id": orderID,
			"status":   update.Status,
		}).Info("Order status updated")
	}

	return applied, order, nil
}

// FindByID fetches a single order. Returns (nil, nil) if not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindByBrokerOrderID locates the order an asynchronous broker event refers
// to. Returns (nil, nil) if not found.
func (r *OrderRepository) FindByBrokerOrderID(
	ctx context.Context,
	brokerOrderID string,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Where("broker_order_id = ?", brokerOrderID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":            "OrderRepository",
			"op":              "FindByBrokerOrderID",
			"broker_order_id": brokerOrderID,
		}).WithError(err).Error("Failed to fetch order by broker ID")

		return nil, err
	}

	return &order, nil
}

// FindByAlertID returns every order created for an alert, oldest first.
func (r *OrderRepository) FindByAlertID(
	ctx context.Context,
	alertID uint,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("alert_id = ?", alertID).
		Order("id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "FindByAlertID",
			"alert_id": alertID,
		}).WithError(err).Error("Failed to fetch orders for alert")

		return nil, err
	}

	return orders, nil
}

// FindOpen returns orders still waiting on a terminal broker state, oldest
// check first, for the reconciliation poller.
func (r *OrderRepository) FindOpen(
	ctx context.Context,
	limit int,
) ([]model.Order, error) {

	if limit <= 0 {
		limit = 100
	}

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			model.OrderStatusSubmitted,
			model.OrderStatusAcknowledged,
			model.OrderStatusPartiallyFilled,
		}).
		Where("broker_order_id <> ''").
		Order("last_checked_at ASC NULLS FIRST").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindOpen",
		}).WithError(err).Error("Failed to fetch open orders")

		return nil, err
	}

	return orders, nil
}

// TouchLastChecked records that the poller just asked the broker about this
// order, so FindOpen rotates fairly across open orders.
func (r *OrderRepository) TouchLastChecked(
	ctx context.Context,
	id uint,
) error {
	now := time.Now()

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Update("last_checked_at", now).Error

	if err != nil {
		return fmt.Errorf("touch order %d: %w", id, err)
	}

	return nil
}

// FindLatest returns the latest orders ordered from newest to oldest.
func (r *OrderRepository) FindLatest(
	ctx context.Context,
	limit int,
) ([]model.Order, error) {

	if limit <= 0 {
		limit = 50
	}

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "OrderRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest orders")

		return nil, err
	}

	return orders, nil
}
