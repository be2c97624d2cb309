package trainer

import "fmt"

// Indoor Bike Data flag bits (FTMS 1.0, section 4.9)
const (
	ibdFlagMoreData             = 1 << 0  // Bit 0: 0 = Instantaneous Speed present, 1 = not present
	ibdFlagAverageSpeed         = 1 << 1  // Bit 1: Average Speed present
	ibdFlagInstantaneousCadence = 1 << 2  // Bit 2: Instantaneous Cadence present
	ibdFlagAverageCadence       = 1 << 3  // Bit 3: Average Cadence present
	ibdFlagTotalDistance        = 1 << 4  // Bit 4: Total Distance present
	ibdFlagResistanceLevel      = 1 << 5  // Bit 5: Resistance Level present
	ibdFlagInstantaneousPower   = 1 << 6  // Bit 6: Instantaneous Power present
	ibdFlagAveragePower         = 1 << 7  // Bit 7: Average Power present
	ibdFlagExpendedEnergy       = 1 << 8  // Bit 8: Expended Energy present
	ibdFlagHeartRate            = 1 << 9  // Bit 9: Heart Rate present
	ibdFlagMetabolicEquivalent  = 1 << 10 // Bit 10: Metabolic Equivalent present
	ibdFlagElapsedTime          = 1 << 11 // Bit 11: Elapsed Time present
	ibdFlagRemainingTime        = 1 << 12 // Bit 12: Remaining Time present
)

// IndoorBikeData holds every field an Indoor Bike Data notification can
// carry. Nil pointers mean the field was absent from the frame (flag clear)
// or the frame ended before it.
type IndoorBikeData struct {
	InstantaneousSpeedKmh   *float64
	AverageSpeedKmh         *float64
	InstantaneousCadenceRpm *float64
	AverageCadenceRpm       *float64
	TotalDistanceMeters     *uint32
	ResistanceLevel         *int16
	InstantaneousPowerWatts *int16
	AveragePowerWatts       *int16
	TotalEnergyKJ           *uint16
	EnergyPerHourKJ         *uint16
	EnergyPerMinuteKJ       *uint8
	HeartRateBpm            *uint8
	MetabolicEquivalent     *float64
	ElapsedTimeSeconds      *uint16
	RemainingTimeSeconds    *uint16
}

// frameCursor reads little-endian fields sequentially from a notification
// buffer. Once a read runs past the end of the buffer the cursor goes dry and
// every later read reports absent: trainers in the wild truncate frames at
// their MTU, and the fields already read are still good.
type frameCursor struct {
	buf    []byte
	offset int
	dry    bool
}

func (c *frameCursor) uint8() (uint8, bool) {
	if c.dry || c.offset+1 > len(c.buf) {
		c.dry = true
		return 0, false
	}
	v := c.buf[c.offset]
	c.offset++
	return v, true
}

func (c *frameCursor) uint16() (uint16, bool) {
	if c.dry || c.offset+2 > len(c.buf) {
		c.dry = true
		return 0, false
	}
	v := uint16(c.buf[c.offset]) | (uint16(c.buf[c.offset+1]) << 8)
	c.offset += 2
	return v, true
}

func (c *frameCursor) sint16() (int16, bool) {
	v, ok := c.uint16()
	return int16(v), ok
}

func (c *frameCursor) uint24() (uint32, bool) {
	if c.dry || c.offset+3 > len(c.buf) {
		c.dry = true
		return 0, false
	}
	v := uint32(c.buf[c.offset]) | (uint32(c.buf[c.offset+1]) << 8) | (uint32(c.buf[c.offset+2]) << 16)
	c.offset += 3
	return v, true
}

// DecodeIndoorBikeData parses an FTMS Indoor Bike Data notification.
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
// Frames shorter than the flag word are rejected; frames that end mid-field
// keep every field decoded before the truncation point.
func DecodeIndoorBikeData(buf []byte) (*IndoorBikeData, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("indoor bike data too short: %d bytes", len(buf))
	}

	flags := uint16(buf[0]) | (uint16(buf[1]) << 8)
	cursor := &frameCursor{buf: buf, offset: 2}
	data := &IndoorBikeData{}

	// Fields appear in flag-bit order. Bit 0 (More Data) is inverted:
	// 0 means Instantaneous Speed IS present.
	if flags&ibdFlagMoreData == 0 {
		if raw, ok := cursor.uint16(); ok {
			speed := float64(raw) * 0.01
			data.InstantaneousSpeedKmh = &speed
		}
	}
	if flags&ibdFlagAverageSpeed != 0 {
		if raw, ok := cursor.uint16(); ok {
			speed := float64(raw) * 0.01
			data.AverageSpeedKmh = &speed
		}
	}
	if flags&ibdFlagInstantaneousCadence != 0 {
		if raw, ok := cursor.uint16(); ok {
			cadence := float64(raw) * 0.5
			data.InstantaneousCadenceRpm = &cadence
		}
	}
	if flags&ibdFlagAverageCadence != 0 {
		if raw, ok := cursor.uint16(); ok {
			cadence := float64(raw) * 0.5
			data.AverageCadenceRpm = &cadence
		}
	}
	if flags&ibdFlagTotalDistance != 0 {
		if raw, ok := cursor.uint24(); ok {
			data.TotalDistanceMeters = &raw
		}
	}
	if flags&ibdFlagResistanceLevel != 0 {
		if raw, ok := cursor.sint16(); ok {
			data.ResistanceLevel = &raw
		}
	}
	if flags&ibdFlagInstantaneousPower != 0 {
		if raw, ok := cursor.sint16(); ok {
			data.InstantaneousPowerWatts = &raw
		}
	}
	if flags&ibdFlagAveragePower != 0 {
		if raw, ok := cursor.sint16(); ok {
			data.AveragePowerWatts = &raw
		}
	}
	if flags&ibdFlagExpendedEnergy != 0 {
		// Total UINT16 + Per Hour UINT16 + Per Minute UINT8
		if raw, ok := cursor.uint16(); ok {
			data.TotalEnergyKJ = &raw
		}
		if raw, ok := cursor.uint16(); ok {
			data.EnergyPerHourKJ = &raw
		}
		if raw, ok := cursor.uint8(); ok {
			data.EnergyPerMinuteKJ = &raw
		}
	}
	if flags&ibdFlagHeartRate != 0 {
		if raw, ok := cursor.uint8(); ok {
			data.HeartRateBpm = &raw
		}
	}
	if flags&ibdFlagMetabolicEquivalent != 0 {
		if raw, ok := cursor.uint8(); ok {
			met := float64(raw) * 0.1
			data.MetabolicEquivalent = &met
		}
	}
	if flags&ibdFlagElapsedTime != 0 {
		if raw, ok := cursor.uint16(); ok {
			data.ElapsedTimeSeconds = &raw
		}
	}
	if flags&ibdFlagRemainingTime != 0 {
		if raw, ok := cursor.uint16(); ok {
			data.RemainingTimeSeconds = &raw
		}
	}

	return data, nil
}

// DecodeHeartRate parses a Heart Rate Measurement notification.
// Flag bit 0 selects a 16-bit (set) or 8-bit (clear) heart rate value.
func DecodeHeartRate(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("heart rate data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	if flags&0x01 != 0 {
		if len(buf) < 3 {
			return 0, fmt.Errorf("heart rate UINT16 data too short: %d bytes", len(buf))
		}
		return uint16(buf[1]) | (uint16(buf[2]) << 8), nil
	}
	return uint16(buf[1]), nil
}

// EncodeRequestControl builds the FTMS Request Control command.
func EncodeRequestControl() []byte {
	return []byte{FTMSOpCodeRequestControl}
}

// EncodeStartOrResume builds the FTMS Start or Resume command.
func EncodeStartOrResume() []byte {
	return []byte{FTMSOpCodeStartOrResume}
}

// EncodeSetTargetPower builds the Set Target Power command for ERG mode.
// Watts are clamped to the range the control point accepts.
func EncodeSetTargetPower(watts int16) []byte {
	if watts < MinTargetPowerWatts {
		watts = MinTargetPowerWatts
	}
	if watts > MaxTargetPowerWatts {
		watts = MaxTargetPowerWatts
	}
	return []byte{
		FTMSOpCodeSetTargetPower,
		byte(watts & 0xFF),
		byte((watts >> 8) & 0xFF),
	}
}

// EncodeSetTargetResistance builds the Set Target Resistance command.
// The wire value is the percent level times 10 (0.1 unit resolution).
func EncodeSetTargetResistance(level uint8) []byte {
	if level > MaxResistanceLevel {
		level = MaxResistanceLevel
	}
	raw := int16(level) * 10
	return []byte{
		FTMSOpCodeSetTargetResistance,
		byte(raw & 0xFF),
		byte((raw >> 8) & 0xFF),
	}
}

// DecodeControlPointResponse parses an FTMS control point indication:
// [0x80, request op code, result code].
func DecodeControlPointResponse(buf []byte) (requestOpCode byte, result byte, err error) {
	if len(buf) < 3 {
		return 0, 0, fmt.Errorf("control point response too short: %d bytes", len(buf))
	}
	if buf[0] != FTMSOpCodeResponseCode {
		return 0, 0, fmt.Errorf("unexpected control point response op code 0x%02x", buf[0])
	}
	return buf[1], buf[2], nil
}

// ControlPointResultDescription maps an FTMS result code to a readable name.
func ControlPointResultDescription(result byte) string {
	switch result {
	case FTMSResultSuccess:
		return "Success"
	case FTMSResultOpCodeNotSupported:
		return "Op Code Not Supported"
	case FTMSResultInvalidParameter:
		return "Invalid Parameter"
	case FTMSResultOperationFailed:
		return "Operation Failed"
	case FTMSResultControlNotPermitted:
		return "Control Not Permitted"
	default:
		return fmt.Sprintf("Unknown (0x%02x)", result)
	}
}
