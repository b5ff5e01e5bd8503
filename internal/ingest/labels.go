package ingest

import (
	"strings"

	"sentinel/internal/model"
)

// datasetAliases maps every label the upstream generator is known to emit,
// including the historical "Product_recognism" typo. Lookup is done on the
// folded form (lowercase, punctuation stripped).
var datasetAliases = map[string]model.StreamKind{
	"postransactions":      model.KindPOS,
	"postransaction":       model.KindPOS,
	"transactions":         model.KindPOS,
	"rfiddata":             model.KindRFID,
	"rfidreadings":         model.KindRFID,
	"productrecognition":   model.KindRecognition,
	"productrecognism":     model.KindRecognition,
	"queuemonitor":         model.KindQueue,
	"queuemonitoring":      model.KindQueue,
	"currentinventorydata": model.KindInventory,
	"inventorysnapshots":   model.KindInventory,
	"inventorydata":        model.KindInventory,
}

// NormalizeDataset resolves a raw dataset label to its canonical stream
// kind. Exact aliases are tried first; unmatched labels fall back to
// keyword containment so minor new variants still resolve.
func NormalizeDataset(label string) (model.StreamKind, bool) {
	folded := foldLabel(label)
	if folded == "" {
		return "", false
	}
	if kind, ok := datasetAliases[folded]; ok {
		return kind, true
	}
	switch {
	case strings.Contains(folded, "rfid"):
		return model.KindRFID, true
	case strings.Contains(folded, "pos"), strings.Contains(folded, "transaction"):
		return model.KindPOS, true
	case strings.Contains(folded, "product") && strings.Contains(folded, "recogni"):
		return model.KindRecognition, true
	case strings.Contains(folded, "queue"):
		return model.KindQueue, true
	case strings.Contains(folded, "inventory"):
		return model.KindInventory, true
	}
	return "", false
}

func foldLabel(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, ch := range strings.ToLower(strings.TrimSpace(label)) {
		if ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
