package risk

import "ladder-engine/pkg/types"

// ApplyBuy implements spec.md §4.6 "on execution / Buy": debit cash,
// update shares/cost basis/avg entry for the filled side.
func ApplyBuy(book *types.RiskBook, pos *types.Position, side types.Side, filledUSDC, filledShares float64) {
	book.CashBalance -= filledUSDC

	switch side {
	case types.YES:
		pos.CostBasisYes += filledUSDC
		pos.SharesYes += filledShares
		if pos.SharesYes > 0 {
			pos.AvgEntryYes = pos.CostBasisYes / pos.SharesYes
		}
	case types.NO:
		pos.CostBasisNo += filledUSDC
		pos.SharesNo += filledShares
		if pos.SharesNo > 0 {
			pos.AvgEntryNo = pos.CostBasisNo / pos.SharesNo
		}
	}
}

// ApplyExit implements spec.md §4.6 "on execution / Exit": the
// proportional cost basis removed is computed from shares held BEFORE
// the sell; any surplus over the removed cost basis is routed to
// ProtectedProfits, never back into tradeable cash (the capital-
// preservation variant this spec adopts, per spec.md §9's open
// question). It returns nothing; the caller checks IsFlat afterwards
// to decide whether the position leaves the book.
func ApplyExit(book *types.RiskBook, pos *types.Position, side types.Side, filledUSDC, filledShares, epsilon float64) {
	switch side {
	case types.YES:
		if pos.SharesYes <= 0 {
			return
		}
		pctSold := filledShares / pos.SharesYes
		costBasisRemoved := pos.CostBasisYes * pctSold

		pos.RealizedPnl += filledUSDC - costBasisRemoved
		book.CashBalance += costBasisRemoved
		if filledUSDC > costBasisRemoved {
			book.ProtectedProfits += filledUSDC - costBasisRemoved
		}

		pos.SharesYes -= filledShares
		pos.CostBasisYes -= costBasisRemoved
		if pos.SharesYes < epsilon {
			pos.SharesYes = 0
			pos.CostBasisYes = 0
			pos.AvgEntryYes = 0
		} else {
			pos.AvgEntryYes = pos.CostBasisYes / pos.SharesYes
		}
	case types.NO:
		if pos.SharesNo <= 0 {
			return
		}
		pctSold := filledShares / pos.SharesNo
		costBasisRemoved := pos.CostBasisNo * pctSold

		pos.RealizedPnl += filledUSDC - costBasisRemoved
		book.CashBalance += costBasisRemoved
		if filledUSDC > costBasisRemoved {
			book.ProtectedProfits += filledUSDC - costBasisRemoved
		}

		pos.SharesNo -= filledShares
		pos.CostBasisNo -= costBasisRemoved
		if pos.SharesNo < epsilon {
			pos.SharesNo = 0
			pos.CostBasisNo = 0
			pos.AvgEntryNo = 0
		} else {
			pos.AvgEntryNo = pos.CostBasisNo / pos.SharesNo
		}
	}
}

// UpdateMarkToMarket recomputes unrealized PnL from current mid prices.
func UpdateMarkToMarket(pos *types.Position, priceYes, priceNo float64) {
	pos.UnrealizedPnl = pos.SharesYes*(priceYes-pos.AvgEntryYes) + pos.SharesNo*(priceNo-pos.AvgEntryNo)
}

// ApplyResolution implements the resolution sweep (spec.md §4.11,
// §9 open question): the held side settles at 1.0 if it won, 0.0 if it
// lost. Realized PnL is computed from the REMAINING cost basis, not the
// original, so the cash-conservation invariant holds even if the
// position had prior partial exits.
func ApplyResolution(book *types.RiskBook, pos *types.Position, heldSide types.Side, won bool) {
	var finalValue float64
	switch heldSide {
	case types.YES:
		if won {
			finalValue = pos.SharesYes * 1.0
		}
		pos.RealizedPnl += finalValue - pos.CostBasisYes
		book.CashBalance += finalValue
		pos.SharesYes = 0
		pos.CostBasisYes = 0
		pos.AvgEntryYes = 0
	case types.NO:
		if won {
			finalValue = pos.SharesNo * 1.0
		}
		pos.RealizedPnl += finalValue - pos.CostBasisNo
		book.CashBalance += finalValue
		pos.SharesNo = 0
		pos.CostBasisNo = 0
		pos.AvgEntryNo = 0
	}
}
