package pulsesync

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFieldsEqualProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	eq := FieldsEqual("score")

	properties.Property("snapshot equals itself", prop.ForAll(
		func(score float64, ts string) bool {
			s := Snapshot{"score": score, "ts": ts}
			return eq(s, s.Clone())
		},
		gen.Float64Range(-1e9, 1e9),
		gen.AlphaString(),
	))

	properties.Property("unlisted fields never matter", prop.ForAll(
		func(score float64, ts1, ts2 string) bool {
			return eq(Snapshot{"score": score, "ts": ts1}, Snapshot{"score": score, "ts": ts2})
		},
		gen.Float64Range(-1e9, 1e9),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("listed field change is detected", prop.ForAll(
		func(a, b int64) bool {
			same := eq(Snapshot{"score": float64(a)}, Snapshot{"score": float64(b)})
			return same == (a == b)
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
	))

	properties.Property("numeric strings compare as numbers", prop.ForAll(
		func(score float64) bool {
			text := strconv.FormatFloat(score, 'f', -1, 64)
			return eq(Snapshot{"score": text}, Snapshot{"score": score})
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("comparison is symmetric", prop.ForAll(
		func(a, b string) bool {
			x := Snapshot{"score": a}
			y := Snapshot{"score": b}
			return eq(x, y) == eq(y, x)
		},
		gen.OneGenOf(gen.AlphaString(), gen.NumString()),
		gen.OneGenOf(gen.AlphaString(), gen.NumString()),
	))

	properties.TestingRun(t)
}

func TestCartesianProductProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	values := func(prefix string, n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = prefix + strconv.Itoa(i)
		}
		return out
	}

	properties.Property("size is the product of dimension sizes", prop.ForAll(
		func(a, b, c int) bool {
			combos := cartesianProduct(map[string][]string{
				"a": values("a", a),
				"b": values("b", b),
				"c": values("c", c),
			})
			return len(combos) == a*b*c
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 5),
		gen.IntRange(1, 5),
	))

	properties.Property("every combination is distinct and complete", prop.ForAll(
		func(a, b int) bool {
			combos := cartesianProduct(map[string][]string{
				"x": values("x", a),
				"y": values("y", b),
			})
			seen := make(map[string]bool, len(combos))
			for _, combo := range combos {
				if len(combo) != 2 {
					return false
				}
				key := strings.Join([]string{combo["x"], combo["y"]}, "|")
				if seen[key] {
					return false
				}
				seen[key] = true
			}
			return len(seen) == a*b
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
