package monitoring

import (
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/seenstate"
)

// Change is one item the detector flagged, either new or an edit of a sticky item.
type Change struct {
	Item     models.Item
	IsUpdate bool
}

// Diff compares a poll's items against the seen-set and returns the changes in
// chronological order. newestFirst reports the order items arrive in; such batches are
// walked oldest first. Duplicate ids keep their first occurrence in the fetched batch.
//
// An item is new when its id is absent from seen. A seen item is updated only when it
// is sticky and carries a non-empty fingerprint that differs from the stored one.
func Diff(items []models.Item, seen *seenstate.SeenSet, newestFirst bool) []Change {
	unique := make([]models.Item, 0, len(items))
	ids := make(map[string]bool, len(items))
	for _, item := range items {
		if ids[item.ID] {
			continue
		}
		ids[item.ID] = true
		unique = append(unique, item)
	}

	if newestFirst {
		for i, j := 0, len(unique)-1; i < j; i, j = i+1, j-1 {
			unique[i], unique[j] = unique[j], unique[i]
		}
	}

	var changes []Change
	for _, item := range unique {
		rec, ok := seen.Contains(item.ID)
		switch {
		case !ok:
			changes = append(changes, Change{Item: item})
		case item.Sticky && item.Fingerprint != "" && item.Fingerprint != rec.Fingerprint:
			changes = append(changes, Change{Item: item, IsUpdate: true})
		}
	}
	return changes
}

// Split partitions changes into new and updated items, keeping their order.
func Split(changes []Change) (newItems, updated []models.Item) {
	for _, c := range changes {
		if c.IsUpdate {
			updated = append(updated, c.Item)
		} else {
			newItems = append(newItems, c.Item)
		}
	}
	return newItems, updated
}
