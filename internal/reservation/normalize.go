package reservation

import (
	"fmt"
	"strconv"
)

// passthroughFields are copied from the raw record verbatim. A field missing
// upstream is still emitted (as null) so the normalized shape is stable for
// the BI consumers.
var passthroughFields = []string{
	"id",
	"pick_up_date",
	"total_days",
	"total_price",
	"rental_user_id",
	"pick_up_location_label",
	"discounts_amount",
	"status",
}

// chargeCategories are the additional-charge category ids that get summed
// into dedicated columns.
var chargeCategories = []int{1, 2, 3, 4}

// Normalize reduces a raw upstream record to the stable reporting shape:
// the passthrough fields, the vehicle class label, and per-category totals of
// the additional charges. Bad or missing values degrade to null / zero rather
// than failing the record.
func Normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(passthroughFields)+len(chargeCategories)+1)

	for _, k := range passthroughFields {
		out[k] = raw[k]
	}

	out["active_vehicle_information"] = map[string]any{
		"vehicle_class_label": vehicleClassLabel(raw),
	}

	totals := make(map[int]float64, len(chargeCategories))
	if charges, ok := GetList(raw, "all_additional_charges"); ok {
		for _, c := range charges {
			charge, ok := c.(map[string]any)
			if !ok {
				continue
			}
			cat, ok := asInt(charge["additional_charge_category_id"])
			if !ok || cat < 1 || cat > 4 {
				continue
			}
			if pivot, ok := GetMap(charge, "pivot"); ok {
				if v, ok := asFloat(pivot["total_price"]); ok {
					totals[cat] += v
				}
			}
		}
	}
	for _, cat := range chargeCategories {
		// Seven decimal places, matching the upstream money format.
		out[fmt.Sprintf("additional_charge_category_%d", cat)] =
			strconv.FormatFloat(totals[cat], 'f', 7, 64)
	}

	return out
}

// vehicleClassLabel reads active_vehicle_information.vehicle_class_label,
// falling back to the nested vehicle object when the label was not denormalized
// onto the assignment itself.
func vehicleClassLabel(raw map[string]any) any {
	info, ok := GetMap(raw, "active_vehicle_information")
	if !ok {
		return nil
	}
	if v, ok := info["vehicle_class_label"]; ok && v != nil {
		return v
	}
	if vehicle, ok := GetMap(info, "vehicle"); ok {
		if v, ok := vehicle["vehicle_class_label"]; ok {
			return v
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if t == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case int:
		return float64(t), true
	}
	return 0, false
}
