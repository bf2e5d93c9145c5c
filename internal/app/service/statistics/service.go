package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/pkg/types"
)

type StatisticType string

const (
	// Daily payment attempts, labelled by payment status
	StatisticTypeDailyPaymentCount StatisticType = "daily_payment_count"
	// Daily and all-time charged amount of succeeded payments, in som
	StatisticTypeDailyRevenue StatisticType = "daily_revenue"
	StatisticTypeTotalRevenue StatisticType = "total_revenue"

	StatisticTypeActiveSubscribers StatisticType = "active_subscribers"
	// value: links, value2: links that led to a purchase, value3: bonuses paid
	StatisticTypeReferralConversion StatisticType = "referral_conversion"
	// Sum of bonus balances not yet spent or expired
	StatisticTypeBonusOutstanding StatisticType = "bonus_outstanding"
)

// Filter fields accepted by payment statistics; all apply to the subscription table.
var subscriptionFilterFields = []string{"plan_type", "duration_months", "payment_status", "created_at", "amount"}

// statistics the subscription filters apply to
var filterable = []StatisticType{StatisticTypeDailyPaymentCount, StatisticTypeDailyRevenue, StatisticTypeTotalRevenue}

type PaymentStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type PaymentStatisticRequest struct {
	Filters   []*types.CommonFilter       `json:"filters"`
	DataItems []*PaymentStatisticDataItem `json:"data_items"`
}

type PaymentStatisticResponseDataItem struct {
	Date   string `json:"date,omitempty"`
	Label  string `json:"label,omitempty"`
	Value  int64  `json:"value"`
	Value2 int64  `json:"value2,omitempty"`
	Value3 int64  `json:"value3,omitempty"`
}

type PaymentStatisticResponse struct {
	DataItems map[StatisticType][]PaymentStatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service { return &Service{db: db, now: func() time.Time { return time.Now().UTC() }} }

// dayExpr formats created_at as YYYY-MM-DD in the connected dialect.
func (s *Service) dayExpr() string {
	if s.db.Dialector.Name() == "sqlite" {
		return "strftime('%Y-%m-%d', created_at)"
	}
	return "TO_CHAR(created_at, 'YYYY-MM-DD')"
}

func (s *Service) subscriptions(ctx context.Context, request *PaymentStatisticRequest) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(request.Filters)}})
}

func (s *Service) getDailyPaymentCount(ctx context.Context, request *PaymentStatisticRequest) ([]PaymentStatisticResponseDataItem, error) {
	var results []PaymentStatisticResponseDataItem
	day := s.dayExpr()
	q := s.subscriptions(ctx, request).
		Select(day + " as date, payment_status as label, count(*) as value").
		Group(day).
		Group("payment_status").
		Order("date desc, label asc")
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyRevenue(ctx context.Context, request *PaymentStatisticRequest) ([]PaymentStatisticResponseDataItem, error) {
	var results []PaymentStatisticResponseDataItem
	day := s.dayExpr()
	q := s.subscriptions(ctx, request).
		Select(day+" as date, sum(amount) as value, sum(bonus_used) as value2, count(*) as value3").
		Where("payment_status = ?", types.PaymentStatusSucceeded).
		Group(day).
		Order("date desc")
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getTotalRevenue(ctx context.Context, request *PaymentStatisticRequest) ([]PaymentStatisticResponseDataItem, error) {
	var results []PaymentStatisticResponseDataItem
	q := s.subscriptions(ctx, request).
		Select("COALESCE(sum(amount), 0) as value, COALESCE(sum(bonus_used), 0) as value2, count(*) as value3").
		Where("payment_status = ?", types.PaymentStatusSucceeded)
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getActiveSubscribers(ctx context.Context, _ *PaymentStatisticRequest) ([]PaymentStatisticResponseDataItem, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("is_subscribed = ? AND subscription_end_date > ?", true, s.now()).
		Count(&n).Error
	if err != nil {
		return nil, err
	}
	return []PaymentStatisticResponseDataItem{{Value: n}}, nil
}

func (s *Service) getReferralConversion(ctx context.Context, _ *PaymentStatisticRequest) ([]PaymentStatisticResponseDataItem, error) {
	var results []PaymentStatisticResponseDataItem
	q := s.db.WithContext(ctx).Model(&models.Referral{}).
		Select("count(*) as value, " +
			"COALESCE(sum(CASE WHEN has_purchased THEN 1 ELSE 0 END), 0) as value2, " +
			"COALESCE(sum(CASE WHEN bonus_paid THEN 1 ELSE 0 END), 0) as value3")
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getBonusOutstanding(ctx context.Context, _ *PaymentStatisticRequest) ([]PaymentStatisticResponseDataItem, error) {
	var results []PaymentStatisticResponseDataItem
	q := s.db.WithContext(ctx).Model(&models.User{}).
		Select("COALESCE(sum(bonus_balance), 0) as value, count(*) as value2").
		Where("bonus_balance > ?", 0)
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getPaymentStatistic(ctx context.Context, request *PaymentStatisticRequest, dataItem *PaymentStatisticDataItem) ([]PaymentStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyPaymentCount:
		return s.getDailyPaymentCount(ctx, request)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, request)
	case StatisticTypeTotalRevenue:
		return s.getTotalRevenue(ctx, request)
	case StatisticTypeActiveSubscribers:
		return s.getActiveSubscribers(ctx, request)
	case StatisticTypeReferralConversion:
		return s.getReferralConversion(ctx, request)
	case StatisticTypeBonusOutstanding:
		return s.getBonusOutstanding(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

// GetPaymentStatistic computes the requested data items concurrently.
// Filters only restrict the subscription based items; others ignore them.
func (s *Service) GetPaymentStatistic(ctx context.Context, request *PaymentStatisticRequest) (*PaymentStatisticResponse, error) {
	for _, f := range request.Filters {
		if err := f.Validate(subscriptionFilterFields); err != nil {
			return nil, err
		}
	}

	// every goroutine sends exactly one message on one of the two channels
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []PaymentStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		go func(di *PaymentStatisticDataItem) {
			req := request
			if !lo.Contains(filterable, di.ID) {
				req = &PaymentStatisticRequest{DataItems: request.DataItems}
			}
			res, err := s.getPaymentStatistic(ctx, req, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []PaymentStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	results := make(map[StatisticType][]PaymentStatisticResponseDataItem)
	for range request.DataItems {
		select {
		case err := <-errChan:
			return nil, err
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &PaymentStatisticResponse{DataItems: results}, nil
}

var ListSortFields = []string{"created_at", "updated_at", "amount", "end_date"}

type ListSubscriptionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListSubscriptionsResponse struct {
	Items []*models.Subscription `json:"items"`
	Total int64                  `json:"total"`
}

// ListSubscriptions is the paginated admin listing.
func (s *Service) ListSubscriptions(ctx context.Context, req *ListSubscriptionsRequest) (*ListSubscriptionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	for _, f := range req.Filters {
		if err := f.Validate(append([]string{"user_id", "payment_id", "transaction_id", "is_active"}, subscriptionFilterFields...)); err != nil {
			return nil, err
		}
	}
	if req.Size <= 0 || req.Size > 200 {
		req.Size = 20
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.Subscription{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	sortBy := "created_at"
	if lo.Contains(ListSortFields, req.SortBy) {
		sortBy = req.SortBy
	}
	var rows []*models.Subscription
	q := tx.Limit(req.Size).Offset(req.From).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	// registrations carry a password hash
	for _, r := range rows {
		extra := r.Extra.Data()
		if extra.Registration != nil {
			extra.Registration.PasswordHash = ""
			r.Extra = datatypes.NewJSONType(extra)
		}
	}
	return &ListSubscriptionsResponse{Items: rows, Total: total}, nil
}
