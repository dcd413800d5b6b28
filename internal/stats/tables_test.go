package stats

import (
	"math"
	"testing"
)

// Printed t tables, indexed by df-1.
var tTableTwoSided05 = []float64{
	12.706, // df=1
	4.303,  // df=2
	3.182,  // df=3
	2.776,  // df=4
	2.571,  // df=5
	2.447,  // df=6
	2.365,  // df=7
	2.306,  // df=8
	2.262,  // df=9
	2.228,  // df=10
	2.201,  // df=11
	2.179,  // df=12
	2.160,  // df=13
	2.145,  // df=14
	2.131,  // df=15
	2.120,  // df=16
	2.110,  // df=17
	2.101,  // df=18
	2.093,  // df=19
	2.086,  // df=20
	2.080,  // df=21
	2.074,  // df=22
	2.069,  // df=23
	2.064,  // df=24
	2.060,  // df=25
	2.056,  // df=26
	2.052,  // df=27
	2.048,  // df=28
	2.045,  // df=29
	2.042,  // df=30
}

var tTableOneSided01 = []float64{
	31.821, // df=1
	6.965,  // df=2
	4.541,  // df=3
	3.747,  // df=4
	3.365,  // df=5
	3.143,  // df=6
	2.998,  // df=7
	2.896,  // df=8
	2.821,  // df=9
	2.764,  // df=10
	2.718,  // df=11
	2.681,  // df=12
	2.650,  // df=13
	2.624,  // df=14
	2.602,  // df=15
	2.583,  // df=16
	2.567,  // df=17
	2.552,  // df=18
	2.539,  // df=19
	2.528,  // df=20
	2.518,  // df=21
	2.508,  // df=22
	2.500,  // df=23
	2.492,  // df=24
	2.485,  // df=25
	2.479,  // df=26
	2.473,  // df=27
	2.467,  // df=28
	2.462,  // df=29
	2.457,  // df=30
}

func TestTQuantileMatchesPrintedTables(t *testing.T) {
	for i, want := range tTableTwoSided05 {
		df := i + 1
		if got := TQuantile(0.975, df); math.Abs(got-want) > 0.001 {
			t.Fatalf("two-sided 0.05 df=%d: expected %.3f, got %.4f", df, want, got)
		}
	}
	for i, want := range tTableOneSided01 {
		df := i + 1
		if got := TQuantile(0.99, df); math.Abs(got-want) > 0.001 {
			t.Fatalf("one-sided 0.01 df=%d: expected %.3f, got %.4f", df, want, got)
		}
	}
}

func TestCriticalRAgreesWithPrintedTable(t *testing.T) {
	for i, tc := range tTableTwoSided05 {
		n := i + 3
		res, err := CriticalR(0.05, n, TwoTailed)
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		df := float64(n - 2)
		want := tc / math.Sqrt(tc*tc+df)
		if math.Abs(res.RCritical-want) > 0.0005 {
			t.Fatalf("n=%d: expected r≈%.4f, got %.4f", n, want, res.RCritical)
		}
	}
}
