package stat

// chiPoint returns the χ² contribution of one channel in rate space.
func chiPoint(ch channel) float64 {
	r := ch.rate() - ch.y
	return r * r / ch.variance
}

func chiCoeffs(ch channel) (d1, d2 float64) {
	return -2 * (ch.rate() - ch.y) / ch.variance, 1 / ch.variance
}
