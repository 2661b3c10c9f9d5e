package stat

import "math"

// tinyRate replaces a non-positive model rate where the source has counts,
// keeping the logarithm finite.
const tinyRate = 1e-10

// cstatPoint returns the Cash (or W-) statistic of one channel.
func cstatPoint(ch channel) float64 {
	s, b, ts, tb := ch.s, ch.b, ch.ts, ch.tb
	y := ch.y
	if s > 0 && y <= 0 {
		y = tinyRate
	}
	if tb == 0 {
		if s == 0 {
			return 2 * ts * y
		}
		return 2 * (ts*y - s + s*math.Log(s/(ts*y)))
	}

	tt := ts + tb
	switch {
	case s == 0:
		return 2 * (ts*y - b*math.Log(tb/tt))
	case b == 0 && y < s/tt:
		return 2 * (-tb*y - s*math.Log(ts/tt))
	case b == 0:
		return 2 * (ts*y - s + s*math.Log(s/(ts*y)))
	}
	f := profileBackground(ch, y)
	return 2 * (ts*y + tt*f - s*math.Log(ts*(y+f)) - b*math.Log(tb*f) -
		s*(1-math.Log(s)) - b*(1-math.Log(b)))
}

// cstatCoeffs returns the first derivative of the statistic with respect to
// the model rate and half its second derivative.
func cstatCoeffs(ch channel) (d1, d2 float64) {
	s, b, ts, tb := ch.s, ch.b, ch.ts, ch.tb
	y := ch.y
	if s == 0 {
		return 2 * ts, 0
	}
	if y <= 0 {
		y = tinyRate
	}
	if tb == 0 {
		return 2 * (ts - s/y), s / (y * y)
	}
	f := profileBackground(ch, y)
	if f == 0 {
		return 2 * (ts - s/y), s / (y * y)
	}
	yf := y + f
	return 2 * (ts - s/yf), s * b / (b*yf*yf + s*f*f)
}

// profileBackground returns the background rate maximizing the likelihood
// for model rate y.
func profileBackground(ch channel, y float64) float64 {
	s, b, ts, tb := ch.s, ch.b, ch.ts, ch.tb
	tt := ts + tb
	a := tt*y - s - b
	d := math.Sqrt(a*a + 4*tt*b*y)
	f := (-a + d) / (2 * tt)
	return max(f, 0)
}
