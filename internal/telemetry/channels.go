// Package telemetry defines the channel schema for incoming race telemetry
// and the normalizer that turns the long-format sample stream into wide,
// time-ordered frames keyed by vehicle.
package telemetry

// Channel identifies a telemetry channel by its on-the-wire name. The set of
// channels is closed: samples for names outside the schema are dropped at
// the normalizer boundary.
type Channel string

// Wire channel names as emitted by the data logger.
const (
	ChanSpeed    Channel = "speed"                  // vehicle speed, km/h
	ChanSteering Channel = "Steering_Angle"         // steering wheel angle, degrees
	ChanGear     Channel = "gear"                   // selected gear
	ChanRPM      Channel = "nmot"                   // engine speed, rpm
	ChanThrottle Channel = "aps"                    // accelerator pedal, percent
	ChanBrakeF   Channel = "pbrake_f"               // front brake pressure, bar
	ChanBrakeR   Channel = "pbrake_r"               // rear brake pressure, bar
	ChanAccX     Channel = "accx_can"               // longitudinal acceleration, g
	ChanAccY     Channel = "accy_can"               // lateral acceleration, g
	ChanGPSLat   Channel = "VBOX_Lat_Min"           // GPS latitude, decimal degrees
	ChanGPSLon   Channel = "VBOX_Long_Minutes"      // GPS longitude, decimal degrees
	ChanLapDist  Channel = "Laptrigger_lapdist_dls" // distance into current lap, m
	ChanLapRaw   Channel = "lap"                    // logger lap counter, advisory only
)

// Kind classifies how a channel behaves between updates and under smoothing.
type Kind int

const (
	// KindContinuous channels (speed, pressures, accelerations) are
	// forward-filled and eligible for rolling smoothing.
	KindContinuous Kind = iota
	// KindDiscrete channels (gear, lap counter) are forward-filled but never
	// smoothed or interpolated.
	KindDiscrete
	// KindPosition channels (GPS) are smoothed by the state-space filter
	// rather than rolling windows.
	KindPosition
)

// Spec describes a schema channel: its physical range and behavior class.
// Values outside [Min, Max] are clamped and the frame is flagged.
type Spec struct {
	Name Channel
	Unit string
	Min  float64
	Max  float64
	Kind Kind
}

// SchemaVersion is bumped whenever the channel set or a range changes.
// Persisted laps record the version they were normalized under.
const SchemaVersion = 1

// Schema is the closed channel set. Ranges are generous physical bounds,
// not tuning limits: they exist to catch corrupt frames, not to shape data.
var Schema = map[Channel]Spec{
	ChanSpeed:    {ChanSpeed, "km/h", 0, 400, KindContinuous},
	ChanSteering: {ChanSteering, "deg", -540, 540, KindContinuous},
	ChanGear:     {ChanGear, "", -1, 8, KindDiscrete},
	ChanRPM:      {ChanRPM, "rpm", 0, 20000, KindContinuous},
	ChanThrottle: {ChanThrottle, "%", 0, 100, KindContinuous},
	ChanBrakeF:   {ChanBrakeF, "bar", 0, 150, KindContinuous},
	ChanBrakeR:   {ChanBrakeR, "bar", 0, 150, KindContinuous},
	ChanAccX:     {ChanAccX, "g", -6, 6, KindContinuous},
	ChanAccY:     {ChanAccY, "g", -6, 6, KindContinuous},
	ChanGPSLat:   {ChanGPSLat, "deg", -90, 90, KindPosition},
	ChanGPSLon:   {ChanGPSLon, "deg", -180, 180, KindPosition},
	ChanLapDist:  {ChanLapDist, "m", 0, 25000, KindContinuous},
	ChanLapRaw:   {ChanLapRaw, "", 0, 10000, KindDiscrete},
}

// Clamp bounds v to the channel's physical range. The second return reports
// whether clamping occurred. Unknown channels pass through unchanged.
func Clamp(ch Channel, v float64) (float64, bool) {
	spec, ok := Schema[ch]
	if !ok {
		return v, false
	}
	if v < spec.Min {
		return spec.Min, true
	}
	if v > spec.Max {
		return spec.Max, true
	}
	return v, false
}
