package portfolio

// Fee constants for China A-share trading: 0.03% commission with a 5 yuan
// floor, applied on both buys and sells, plus a 0.1% stamp tax applied on
// sells only (the buyer never pays stamp duty under current A-share rules).
const (
	commissionRate    = 0.0003
	minCommission     = 5.0
	stampTaxRate      = 0.001
)

// Commission returns the brokerage fee for a trade of the given notional value.
func Commission(total float64) float64 {
	fee := total * commissionRate
	if fee < minCommission {
		return minCommission
	}
	return fee
}

// StampTax returns the sell-side stamp duty for a trade of the given notional value.
func StampTax(total float64) float64 {
	return total * stampTaxRate
}
