package product

import "sort"

// Product codes referenced by order entries and partner payloads.
const (
	CodeMeter           = "meter"
	CodeStrips          = "strips"
	CodeLancets         = "lancets"
	CodeControlSolution = "control_solution"
	CodeLancingDevice   = "lancing_device"
	CodeBattery         = "battery"
)

var catalog = map[string]ProductType{
	CodeMeter: {
		Code: CodeMeter, Name: "Cellular Glucose Meter", Category: CategoryDevice,
		UnitsPerBox: 1, UnitLabel: "meter", Orderable: true,
	},
	CodeStrips: {
		Code: CodeStrips, Name: "Glucose Test Strips", Category: CategoryStrips,
		UnitsPerBox: 50, UnitLabel: "strip", Orderable: true,
	},
	CodeLancets: {
		Code: CodeLancets, Name: "Lancets", Category: CategoryLancets,
		UnitsPerBox: 100, UnitLabel: "lancet", Orderable: true,
	},
	CodeControlSolution: {
		Code: CodeControlSolution, Name: "Control Solution", Category: CategoryControlSolution,
		UnitsPerBox: 1, UnitLabel: "bottle", Orderable: true,
	},
	CodeLancingDevice: {
		Code: CodeLancingDevice, Name: "Lancing Device", Category: CategoryLancingDevice,
		UnitsPerBox: 1, UnitLabel: "device", Orderable: true,
	},
	CodeBattery: {
		Code: CodeBattery, Name: "Meter Battery", Category: CategoryBattery,
		UnitsPerBox: 2, UnitLabel: "battery", Orderable: false,
	},
}

// Lookup returns the product type registered under code.
func Lookup(code string) (ProductType, bool) {
	p, ok := catalog[code]
	return p, ok
}

// All returns every product type sorted by code.
func All() []ProductType {
	out := make([]ProductType, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Orderable returns the product types that may appear on an order entry.
func Orderable() []ProductType {
	var out []ProductType
	for _, p := range All() {
		if p.Orderable {
			out = append(out, p)
		}
	}
	return out
}
