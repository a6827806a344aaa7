package domain

import "strings"

// InventoryItem is one credential bundle held in stock. Identifier is unique
// within the pool.
type InventoryItem struct {
	Identifier   string
	Secret       string
	SessionToken string
}

// ParseInventoryItem parses the admin stock format "identifier:secret:token".
// The token may itself contain colons.
func ParseInventoryItem(line string) (InventoryItem, error) {
	parts := strings.SplitN(strings.TrimSpace(line), ":", 3)
	if len(parts) != 3 {
		return InventoryItem{}, ErrInvalidItem
	}
	item := InventoryItem{
		Identifier:   strings.TrimSpace(parts[0]),
		Secret:       parts[1],
		SessionToken: parts[2],
	}
	if item.Identifier == "" || item.Secret == "" || item.SessionToken == "" {
		return InventoryItem{}, ErrInvalidItem
	}
	return item, nil
}

// SameIdentifier reports whether two identifiers name the same item.
func SameIdentifier(a, b string) bool {
	return strings.EqualFold(a, b)
}
