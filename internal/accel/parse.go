package accel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMissingAxis is returned for readings that do not carry all three axes.
var ErrMissingAxis = errors.New("acceleration reading is missing an axis")

// jsonSample mirrors the dictionary IMU bridges print, e.g. a Sense HAT
// get_accelerometer_raw() dump. Pointers distinguish a missing axis from 0.
type jsonSample struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

// ParseSample parses one line from an IMU bridge. Two formats are accepted:
//
//	0.012,-0.004,0.998
//	{"x": 0.012, "y": -0.004, "z": 0.998}
//
// Whitespace around fields is ignored. Non-finite values are rejected.
func ParseSample(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Sample{}, fmt.Errorf("empty line: %w", ErrMissingAxis)
	}

	var s Sample
	if strings.HasPrefix(line, "{") {
		var js jsonSample
		if err := json.Unmarshal([]byte(line), &js); err != nil {
			return Sample{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		if js.X == nil || js.Y == nil || js.Z == nil {
			return Sample{}, fmt.Errorf("payload %q: %w", line, ErrMissingAxis)
		}
		s = Sample{X: *js.X, Y: *js.Y, Z: *js.Z}
	} else {
		segments := strings.Split(line, ",")
		if len(segments) != 3 {
			return Sample{}, fmt.Errorf("invalid payload format %q, expected 3 segments: %w", line, ErrMissingAxis)
		}
		axes := make([]float64, 3)
		for i, seg := range segments {
			v, err := strconv.ParseFloat(strings.TrimSpace(seg), 64)
			if err != nil {
				return Sample{}, fmt.Errorf("failed to parse axis %d: %w", i, err)
			}
			axes[i] = v
		}
		s = Sample{X: axes[0], Y: axes[1], Z: axes[2]}
	}

	for _, v := range s.Axes() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Sample{}, fmt.Errorf("non-finite axis in %q", line)
		}
	}
	return s, nil
}
