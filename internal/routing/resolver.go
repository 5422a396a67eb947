// Package routing maps decoded bus signal names onto buffer channel keys.
//
// The battery firmware publishes every physical cell under two signal
// families that differ only in their measurement suffix: "Pwr" (primary) and
// "Egy" (secondary). Both address "cell X of module Y" with 1-based indices.
package routing

import (
	"regexp"
	"strconv"

	"github.com/helios-ev/bms-datalogger/internal/telemetry"
)

// Route is the resolved (domain, module, cell) channel key, 0-based.
type Route struct {
	Domain telemetry.Domain
	Module int
	Cell   int
}

// signalPattern matches both families in one pass:
// UCellBattPwrHi_3_12, TCellBattEgyHi_1_6, ...
var signalPattern = regexp.MustCompile(`^(U|T)CellBatt(Pwr|Egy)Hi_(\d+)_(\d+)$`)

// Resolve maps a decoded signal name to a channel key under the configured
// layout. The boolean is false when the name matches neither family or the
// disambiguation policy drops it.
//
// Disambiguation: the secondary ("Egy") family is only accepted for module 1,
// whose readings belong to the overflow module and are folded into the last
// configured module slot. Every other secondary module is dropped, and the
// primary ("Pwr") reading for the slot that would collide with the remap is
// dropped too, so the folded value is never overwritten. This mirrors the
// firmware build on the bench; it is not a general rule.
func Resolve(layout telemetry.Layout, signalName string) (Route, bool) {
	m := signalPattern.FindStringSubmatch(signalName)
	if m == nil {
		return Route{}, false
	}

	var domain telemetry.Domain
	switch m[1] {
	case "U":
		domain = telemetry.Voltage
	case "T":
		domain = telemetry.Temperature
	}

	// Signal names are 1-based.
	module, err := strconv.Atoi(m[3])
	if err != nil {
		return Route{}, false
	}
	cell, err := strconv.Atoi(m[4])
	if err != nil {
		return Route{}, false
	}
	module--
	cell--
	if module < 0 || cell < 0 {
		return Route{}, false
	}

	modules, _ := layout.Dims(domain)
	lastModule := modules - 1

	switch m[2] {
	case "Egy":
		if module != 0 {
			return Route{}, false
		}
		module = lastModule

	case "Pwr":
		if module == lastModule {
			return Route{}, false
		}
	}

	if module >= modules {
		return Route{}, false
	}
	return Route{Domain: domain, Module: module, Cell: cell}, true
}
