package resp

import (
	"math"
	"strconv"
)

var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
	nan    = math.NaN()
)

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
