package product

// Category groups product types for ordering and packing.
type Category string

const (
	CategoryDevice          Category = "device"
	CategoryStrips          Category = "strips"
	CategoryLancets         Category = "lancets"
	CategoryControlSolution Category = "control_solution"
	CategoryLancingDevice   Category = "lancing_device"
	CategoryBattery         Category = "battery"
)

// ProductType is static reference data describing an orderable item.
type ProductType struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	UnitsPerBox int      `json:"units_per_box"`
	UnitLabel   string   `json:"unit_label"`
	Orderable   bool     `json:"orderable"`
}

// BoxesForUnits returns the number of boxes needed to hold units, rounding up.
func (p ProductType) BoxesForUnits(units int) int {
	if units <= 0 {
		return 0
	}
	per := p.UnitsPerBox
	if per <= 0 {
		per = 1
	}
	return (units + per - 1) / per
}

func (p ProductType) UnitsForBoxes(boxes int) int {
	if boxes <= 0 {
		return 0
	}
	per := p.UnitsPerBox
	if per <= 0 {
		per = 1
	}
	return boxes * per
}
