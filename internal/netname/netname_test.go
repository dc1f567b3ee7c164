package netname

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ppbus.g3h", "PPBUS_G3H"},
		{"PPBUS_G3H", "PPBUS_G3H"},
		{"  pp3v3_s5  ", "PP3V3_S5"},
		{"PPBUS--G3H", "PPBUS_G3H"},
		{"PPBUS   G3H", "PPBUS_G3H"},
		{"(PPBUS_G3H)", "PPBUS_G3H"},
		{"PPBUS__G3H", "PPBUS_G3H"},
		{"pp1v8/sw", "PP1V8_SW"},
	}
	for _, c := range cases {
		got := Canonical(c.in)
		assert.Equal(t, c.want, got, "Canonical(%q)", c.in)
		assert.Equal(t, got, Canonical(got), "idempotence for %q", c.in)
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in, want  string
		rewritten bool
	}{
		{"CHECK_PPBUS_G3H", "CHECK_PPBUS_G3H", false},
		{"VERIFY_PPBUS_G3H", "CHECK_PPBUS_G3H", true},
		{"MEASURE_PP3V3_S5", "CHECK_PP3V3_S5", true},
		{"TEST_PP1V8_SW", "CHECK_PP1V8_SW", true},
		{"check_ppbus_g3h", "CHECK_PPBUS_G3H", true},
		{"PPBUS_G3H", "CHECK_PPBUS_G3H", true},
		{"CHECK_PPBUS_G3H_R2G", "CHECK_PPBUS_G3H_R2G", false},
		{"VERIFY_PPBUS_G3H_DIODE", "CHECK_PPBUS_G3H_DIODE", true},
	}
	for _, c := range cases {
		got, rewritten := NormalizeKey(c.in)
		assert.Equal(t, c.want, got, "NormalizeKey(%q)", c.in)
		assert.Equal(t, c.rewritten, rewritten, "rewritten flag for %q", c.in)
	}
}

func TestBaseNet(t *testing.T) {
	assert.Equal(t, "PPBUS_G3H", BaseNet("CHECK_PPBUS_G3H_R2G"))
	assert.Equal(t, "PPBUS_G3H", BaseNet("VERIFY_PPBUS_G3H"))
	assert.Equal(t, "PP3V3_S5", BaseNet("PP3V3_S5"))
}

func TestRefdesClass(t *testing.T) {
	assert.Equal(t, "TP", RefdesClass("TP303"))
	assert.Equal(t, "TP", RefdesClass("TPU0900"))
	assert.Equal(t, "FB", RefdesClass("FB1200"))
	assert.Equal(t, "C", RefdesClass("C7522"))
	assert.Equal(t, "J", RefdesClass("J4"))
	assert.Equal(t, "", RefdesClass(""))
}

func TestIsPowerRail(t *testing.T) {
	assert.True(t, IsPowerRail("PPBUS_G3H"))
	assert.True(t, IsPowerRail("PP3V3_S5"))
	assert.False(t, IsPowerRail("GND"))
	assert.False(t, IsPowerRail("SMC_RESET_L"))
}
