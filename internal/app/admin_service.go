package app

import (
	"strings"

	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const DefaultPreviewLimit = 10

type StockAdmin interface {
	Add(item domain.InventoryItem) error
	RemoveByIdentifier(id string) (domain.InventoryItem, error)
	Count() int
	Preview(limit int) []domain.InventoryItem
	Clear() int
}

type AdminService struct {
	stock  StockAdmin
	logger *zap.Logger
}

func NewAdminService(stock StockAdmin, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		stock:  stock,
		logger: logger,
	}
}

// AddItem parses one "identifier:secret:token" line and pools it.
func (s *AdminService) AddItem(line string) (domain.InventoryItem, error) {
	item, err := domain.ParseInventoryItem(line)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if err := s.stock.Add(item); err != nil {
		return domain.InventoryItem{}, err
	}
	s.logger.Info("stock item added", zap.String("identifier", item.Identifier))
	return item, nil
}

type RejectedLine struct {
	Line   int
	Reason string
}

type AddItemsResult struct {
	Added    []string
	Rejected []RejectedLine
	Count    int
}

// AddItems adds every non-blank line and reports the ones that could not be
// pooled. Line numbers start at 1.
func (s *AdminService) AddItems(lines []string) AddItemsResult {
	res := AddItemsResult{Added: make([]string, 0, len(lines))}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		item, err := s.AddItem(line)
		if err != nil {
			res.Rejected = append(res.Rejected, RejectedLine{Line: i + 1, Reason: err.Error()})
			continue
		}
		res.Added = append(res.Added, item.Identifier)
	}
	res.Count = s.stock.Count()
	return res
}

func (s *AdminService) RemoveItem(identifier string) (domain.InventoryItem, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.InventoryItem{}, domain.ErrInvalidItem
	}
	item, err := s.stock.RemoveByIdentifier(identifier)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.logger.Info("stock item removed", zap.String("identifier", item.Identifier))
	return item, nil
}

func (s *AdminService) Count() int {
	return s.stock.Count()
}

// Preview lists the next items to be handed out. limit <= 0 uses DefaultPreviewLimit.
func (s *AdminService) Preview(limit int) []domain.InventoryItem {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	return s.stock.Preview(limit)
}

func (s *AdminService) Clear() int {
	removed := s.stock.Clear()
	s.logger.Warn("stock cleared", zap.Int("removed", removed))
	return removed
}
