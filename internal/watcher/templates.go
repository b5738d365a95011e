package watcher

import (
	"context"
	"errors"
	"path/filepath"
)

// Invalidator drops cached content for a location.
type Invalidator interface {
	Invalidate(ctx context.Context, location string) error
}

// TemplateHandler returns a handler that invalidates the cached content of
// every changed file below root, under both its root-relative location and
// its path, and then calls onChange with the relative locations.
func TemplateHandler(root string, inv Invalidator, onChange func(ctx context.Context, locations []string)) ChangeHandler {
	return func(ctx context.Context, events []ChangeEvent) error {
		locations := make([]string, 0, len(events))
		var errs []error
		for _, event := range events {
			location := Location(root, event.Path)
			locations = append(locations, location)
			if inv == nil {
				continue
			}
			for _, key := range uniqueKeys(location, event.Path) {
				if err := inv.Invalidate(ctx, key); err != nil {
					errs = append(errs, err)
				}
			}
		}
		if onChange != nil && len(locations) > 0 {
			onChange(ctx, locations)
		}
		return errors.Join(errs...)
	}
}

// Location returns path relative to root in slash form, or path itself when
// it does not live below root.
func Location(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func uniqueKeys(location, path string) []string {
	if location == path {
		return []string{location}
	}
	return []string{location, path}
}
