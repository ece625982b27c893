package velocity

import (
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/speedometer/internal/accel"
	"github.com/banshee-data/speedometer/internal/units"
)

// Integrate applies rectangular integration to one reading: each axis is
// multiplied by dt and the resultant magnitude of the per-axis values is
// returned. The result is re-derived from scratch on every call; nothing is
// accumulated between readings.
func Integrate(s accel.Sample, dt time.Duration) float64 {
	if dt <= 0 {
		return 0
	}
	seconds := dt.Seconds()
	v := s.Axes()
	floats.Scale(seconds, v)
	return floats.Norm(v, 2)
}

// SpeedKMH converts one reading over dt into the published km/h value:
// the integrated magnitude, damped by scale, then converted from m/s.
func SpeedKMH(s accel.Sample, dt time.Duration, scale float64) float64 {
	mps := Integrate(s, dt) * scale
	return units.ConvertSpeed(mps, units.KMPH)
}
