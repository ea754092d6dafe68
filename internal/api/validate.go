package api

import (
	"fmt"
	"strings"

	"ordersync/internal/model"
)

func validateOrderIn(in *model.OrderIn) error {
	if strings.TrimSpace(in.RecipientName) == "" {
		return fmt.Errorf("recipientName is required")
	}
	if in.ItemCount < 0 {
		return fmt.Errorf("itemCount must be >= 0")
	}
	if in.TotalAmount < 0 {
		return fmt.Errorf("totalAmount must be >= 0")
	}
	// Phone and address may be absent at creation; they are enforced when the
	// order tries to become dispatch-eligible.
	return nil
}

func validateMappings(rows []model.StatusMapping) error {
	if len(rows) == 0 {
		return fmt.Errorf("mappings must not be empty")
	}
	seen := map[int]struct{}{}
	for i, m := range rows {
		if m.RemoteCode == 0 && strings.TrimSpace(m.RemoteText) == "" {
			return fmt.Errorf("mapping %d: remoteCode or remoteText required", i)
		}
		if _, ok := model.ParseStatus(string(m.Canonical)); !ok {
			return fmt.Errorf("mapping %d: unknown canonical status %q", i, m.Canonical)
		}
		if m.Category != model.CategoryOf(m.Canonical) {
			return fmt.Errorf("mapping %d: category %q does not match canonical %q", i, m.Category, m.Canonical)
		}
		if m.RemoteCode != 0 {
			if _, dup := seen[m.RemoteCode]; dup {
				return fmt.Errorf("mapping %d: duplicate remoteCode %d", i, m.RemoteCode)
			}
			seen[m.RemoteCode] = struct{}{}
		}
	}
	return nil
}
