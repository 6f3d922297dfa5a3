package deployment

import (
	"errors"
	"fmt"
)

// MaxPort is the highest valid TCP port.
const MaxPort = 65535

// ErrPortOutOfRange is returned when a base port cannot fit every unit.
var ErrPortOutOfRange = errors.New("port out of range")

// =============================================================================
// Port Allocation Functions
// =============================================================================

// Ports maps unit name to its assigned host port.
type Ports map[string]int

// AllocatePorts assigns one host port per unit, in declaration order,
// starting at base and incrementing by one.
//
// Every declared unit gets a slot, enabled or not, so toggling a unit
// never renumbers the others.
//
// Example:
//
//	ports, _ := AllocatePorts([]string{"asr", "ocr", "ner"}, 8001)
//	// Result: {"asr": 8001, "ocr": 8002, "ner": 8003}
func AllocatePorts(unitNames []string, base int) (Ports, error) {
	if base < 1 {
		return nil, fmt.Errorf("base port %d: %w", base, ErrPortOutOfRange)
	}
	if last := base + len(unitNames) - 1; last > MaxPort {
		return nil, fmt.Errorf("%d units from base %d end at %d: %w", len(unitNames), base, last, ErrPortOutOfRange)
	}

	ports := make(Ports, len(unitNames))
	for i, name := range unitNames {
		ports[name] = base + i
	}
	return ports, nil
}

// RangesOverlap reports whether [baseA, baseA+countA) and
// [baseB, baseB+countB) share a port. Empty ranges never overlap.
func RangesOverlap(baseA, countA, baseB, countB int) bool {
	if countA == 0 || countB == 0 {
		return false
	}
	return baseA < baseB+countB && baseB < baseA+countA
}
