// Package smooth reduces sensor noise on lap series: a constant-velocity
// state-space filter for GPS traces and rolling-window statistics for the
// scalar channels.
package smooth

import "math"

// Minimum innovation-covariance determinant; below it the update is skipped
// rather than inverted.
const minDeterminant = 1e-9

// metersPerDegLat is the WGS84 meridian arc length per degree, adequate for
// the sub-kilometer extents of a circuit.
const metersPerDegLat = 111320.0

// GPSFilterConfig tunes the path filter.
type GPSFilterConfig struct {
	ProcessNoisePos  float64 // position process noise (m²)
	ProcessNoiseVel  float64 // velocity process noise (m²/s²)
	MeasurementNoise float64 // GPS measurement noise (m²)
}

// DefaultGPSFilterConfig returns noise parameters suited to the 10 Hz GPS
// units the loggers carry.
func DefaultGPSFilterConfig() GPSFilterConfig {
	return GPSFilterConfig{
		ProcessNoisePos:  0.1,
		ProcessNoiseVel:  0.5,
		MeasurementNoise: 4.0,
	}
}

// GPSFilter is a 4-state constant-velocity Kalman filter over a local
// tangent-plane projection of the GPS trace. State is [x, y, vx, vy] in
// meters and m/s; covariance is 4x4 row-major.
type GPSFilter struct {
	cfg GPSFilterConfig

	x, y, vx, vy float64
	P            [16]float64

	originLat float64
	originLon float64
	lonScale  float64
	lastT     float64
	primed    bool
}

// NewGPSFilter builds a filter. Zero config fields take defaults.
func NewGPSFilter(cfg GPSFilterConfig) *GPSFilter {
	def := DefaultGPSFilterConfig()
	if cfg.ProcessNoisePos <= 0 {
		cfg.ProcessNoisePos = def.ProcessNoisePos
	}
	if cfg.ProcessNoiseVel <= 0 {
		cfg.ProcessNoiseVel = def.ProcessNoiseVel
	}
	if cfg.MeasurementNoise <= 0 {
		cfg.MeasurementNoise = def.MeasurementNoise
	}
	return &GPSFilter{cfg: cfg}
}

// Step feeds one GPS fix at event time t and returns the filtered position
// in degrees. NaN inputs return the last filtered position propagated by
// the motion model; before the first valid fix they return NaN.
func (f *GPSFilter) Step(t, lat, lon float64) (float64, float64) {
	if !f.primed {
		if math.IsNaN(lat) || math.IsNaN(lon) {
			return math.NaN(), math.NaN()
		}
		f.originLat, f.originLon = lat, lon
		f.lonScale = metersPerDegLat * math.Cos(lat*math.Pi/180)
		f.x, f.y, f.vx, f.vy = 0, 0, 0, 0
		// Loose prior: position near the fix, velocity unknown.
		f.P = [16]float64{}
		f.P[0], f.P[5] = f.cfg.MeasurementNoise, f.cfg.MeasurementNoise
		f.P[10], f.P[15] = 100, 100
		f.lastT = t
		f.primed = true
		return lat, lon
	}

	dt := t - f.lastT
	if dt < 0 {
		dt = 0
	}
	f.lastT = t
	f.predict(dt)

	if !math.IsNaN(lat) && !math.IsNaN(lon) {
		f.update(f.toMeters(lat, lon))
	}
	return f.toDegrees()
}

func (f *GPSFilter) toMeters(lat, lon float64) (float64, float64) {
	return (lon - f.originLon) * f.lonScale, (lat - f.originLat) * metersPerDegLat
}

func (f *GPSFilter) toDegrees() (float64, float64) {
	return f.originLat + f.y/metersPerDegLat, f.originLon + f.x/f.lonScale
}

// predict advances the state by dt under the constant-velocity model:
// x' = F x, P' = F P Fᵀ + Q with F = [I dt·I; 0 I].
func (f *GPSFilter) predict(dt float64) {
	f.x += f.vx * dt
	f.y += f.vy * dt

	P := f.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		f.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		f.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		f.P[i*4+2] = FP[i*4+2]
		f.P[i*4+3] = FP[i*4+3]
	}

	f.P[0*4+0] += f.cfg.ProcessNoisePos
	f.P[1*4+1] += f.cfg.ProcessNoisePos
	f.P[2*4+2] += f.cfg.ProcessNoiseVel
	f.P[3*4+3] += f.cfg.ProcessNoiseVel
}

// update folds in a position measurement (zx, zy) in local meters.
// H extracts position only.
func (f *GPSFilter) update(zx, zy float64) {
	yX := zx - f.x
	yY := zy - f.y

	// S = H P Hᵀ + R
	S00 := f.P[0*4+0] + f.cfg.MeasurementNoise
	S01 := f.P[0*4+1]
	S10 := f.P[1*4+0]
	S11 := f.P[1*4+1] + f.cfg.MeasurementNoise

	det := S00*S11 - S01*S10
	if det < minDeterminant {
		return
	}
	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// K = P Hᵀ S⁻¹, 4x2
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = f.P[i*4+0]*invS00 + f.P[i*4+1]*invS10
		K[i*2+1] = f.P[i*4+0]*invS01 + f.P[i*4+1]*invS11
	}

	f.x += K[0]*yX + K[1]*yY
	f.y += K[2]*yX + K[3]*yY
	f.vx += K[4]*yX + K[5]*yY
	f.vy += K[6]*yX + K[7]*yY

	// P' = (I - K H) P
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			ikh0 := -K[i*2+0]
			ikh1 := -K[i*2+1]
			if i == 0 {
				ikh0 += 1
			}
			if i == 1 {
				ikh1 += 1
			}
			v := ikh0*f.P[0*4+j] + ikh1*f.P[1*4+j]
			if i >= 2 {
				v += f.P[i*4+j]
			}
			newP[i*4+j] = v
		}
	}
	f.P = newP
}

// SmoothTrace runs the filter over a whole lap's GPS series and returns the
// smoothed coordinates. times, lat and lon are parallel.
func SmoothTrace(cfg GPSFilterConfig, times, lat, lon []float64) ([]float64, []float64) {
	f := NewGPSFilter(cfg)
	outLat := make([]float64, len(times))
	outLon := make([]float64, len(times))
	for i := range times {
		outLat[i], outLon[i] = f.Step(times[i], lat[i], lon[i])
	}
	return outLat, outLon
}
