package split

import (
	"math"

	"github.com/tabsyteam/tabsy-core/go/internal/models"
)

// sumEpsilon absorbs float noise when comparing percentage/amount sums
const sumEpsilon = 1e-6

// Round2 rounds a monetary amount to 2 decimal places, half up.
// All amounts are rounded at the point of computation; clients display
// these numbers as-is.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// Recalculate derives SplitAmounts, RemainingAmount and IsValid from the
// current split configuration. SplitAmounts is the authoritative per-guest
// owed amount regardless of split type. Bill items are only consulted for
// BY_ITEMS.
func Recalculate(calc *models.SplitCalculation, items []models.BillItem) {
	calc.SplitAmounts = make(map[string]float64, len(calc.Participants))

	switch calc.SplitType {
	case models.SplitTypeEqual:
		recalculateEqual(calc)
	case models.SplitTypeByPercentage:
		recalculateByPercentage(calc)
	case models.SplitTypeByAmount:
		recalculateByAmount(calc)
	case models.SplitTypeByItems:
		recalculateByItems(calc, items)
	default:
		calc.RemainingAmount = Round2(calc.TotalAmount)
		calc.IsValid = false
	}
}

// recalculateEqual gives every guest an equal rounded share; the last
// participant absorbs the rounding remainder so the shares always cover
// the full bill.
func recalculateEqual(calc *models.SplitCalculation) {
	n := len(calc.Participants)
	if n == 0 {
		calc.RemainingAmount = Round2(calc.TotalAmount)
		calc.IsValid = false
		return
	}

	share := Round2(calc.TotalAmount / float64(n))
	assigned := 0.0
	for i, guest := range calc.Participants {
		if i == n-1 {
			calc.SplitAmounts[guest] = Round2(calc.TotalAmount - assigned)
			break
		}
		calc.SplitAmounts[guest] = share
		assigned += share
	}

	calc.RemainingAmount = 0
	calc.IsValid = true
}

func recalculateByPercentage(calc *models.SplitCalculation) {
	pctSum := 0.0
	covered := 0.0
	for _, guest := range calc.Participants {
		pct := calc.Percentages[guest]
		share := Round2(calc.TotalAmount * pct / 100)
		calc.SplitAmounts[guest] = share
		pctSum += pct
		covered += share
	}

	calc.RemainingAmount = Round2(calc.TotalAmount - covered)
	calc.IsValid = math.Abs(pctSum-100) < sumEpsilon
}

func recalculateByAmount(calc *models.SplitCalculation) {
	covered := 0.0
	for _, guest := range calc.Participants {
		share := Round2(calc.Amounts[guest])
		calc.SplitAmounts[guest] = share
		covered += share
	}

	calc.RemainingAmount = Round2(calc.TotalAmount - covered)
	calc.IsValid = math.Abs(calc.RemainingAmount) < 0.005
}

func recalculateByItems(calc *models.SplitCalculation, items []models.BillItem) {
	for _, guest := range calc.Participants {
		calc.SplitAmounts[guest] = 0
	}

	allAssigned := true
	covered := 0.0
	for _, item := range items {
		guest, ok := calc.ItemAssignments[item.ID]
		if !ok || !calc.HasParticipant(guest) {
			allAssigned = false
			continue
		}
		line := item.Price * float64(item.Quantity)
		calc.SplitAmounts[guest] = Round2(calc.SplitAmounts[guest] + line)
		covered += line
	}

	calc.RemainingAmount = Round2(calc.TotalAmount - covered)
	calc.IsValid = allAssigned && len(items) > 0
}

// percentageSum totals the set percentage entries
func percentageSum(percentages map[string]float64) float64 {
	sum := 0.0
	for _, pct := range percentages {
		sum += pct
	}
	return sum
}

// amountSum totals the set amount entries
func amountSum(amounts map[string]float64) float64 {
	sum := 0.0
	for _, amt := range amounts {
		sum += amt
	}
	return sum
}
