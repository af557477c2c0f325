package models

// PnL computes the signed profit or loss of a position. The quantity is
// taken as a magnitude; the sign comes entirely from the side:
//
//	long:  (ltp - avg) × |qty|
//	short: (avg - ltp) × |qty|
//
// avg == 0 is a valid input (freshly assigned positions report it).
func PnL(side Side, avgPrice, ltp float64, qty int) float64 {
	q := float64(qty)
	if q < 0 {
		q = -q
	}
	if side == SideShort {
		return (avgPrice - ltp) * q
	}
	return (ltp - avgPrice) * q
}
