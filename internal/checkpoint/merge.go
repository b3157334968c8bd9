package checkpoint

import "github.com/swatchlab/swatchsync/internal/swatch"

// Dedupe removes duplicate ids from records. The first occurrence
// keeps its position; the most recent non-empty value wins. Records
// without an id are dropped.
func Dedupe(records []swatch.Record) []swatch.Record {
	out := make([]swatch.Record, 0, len(records))
	index := make(map[string]int, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if i, seen := index[rec.ID]; seen {
			if rec.Value() != "" {
				out[i] = out[i].WithValue(rec.Value())
			}
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec.Clone())
	}
	return out
}

// Merge folds updates into existing. First-seen-by-id keeps its
// position; a later non-empty value overwrites an earlier placeholder
// for the same id; new ids append in update order. Merging the same
// updates twice yields the same result.
func Merge(existing, updates []swatch.Record) []swatch.Record {
	merged := Dedupe(existing)
	index := make(map[string]int, len(merged))
	for i, rec := range merged {
		index[rec.ID] = i
	}
	for _, rec := range updates {
		if rec.ID == "" {
			continue
		}
		if i, seen := index[rec.ID]; seen {
			if rec.Value() != "" {
				merged[i] = merged[i].WithValue(rec.Value())
			}
			continue
		}
		index[rec.ID] = len(merged)
		merged = append(merged, rec.Clone())
	}
	return merged
}
