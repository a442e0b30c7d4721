// Package reconciler turns the hardware's wrapping started/done counters
// into job completions.
package reconciler

import "fmt"

// Modulus is the wrap point of the hardware counters.
const Modulus = 256

// Counter is an 8-bit hardware counter. All arithmetic is modulo 256.
type Counter uint8

// Add returns c advanced by n, wrapping at Modulus.
func (c Counter) Add(n int) Counter {
	v := (int(c) + n) % Modulus
	if v < 0 {
		v += Modulus
	}
	return Counter(v)
}

// Inc is Add(1).
func (c Counter) Inc() Counter {
	return c.Add(1)
}

// Since returns how far c has advanced past prev, in [0, Modulus).
func (c Counter) Since(prev Counter) int {
	d := (int(c) - int(prev)) % Modulus
	if d < 0 {
		d += Modulus
	}
	return d
}

// Counters is a started/done pair.
type Counters struct {
	Started Counter
	Done    Counter
}

func (c Counters) String() string {
	return fmt.Sprintf("started=%d done=%d", c.Started, c.Done)
}
