package imu

// Sensor identifies a data stream produced by the fusion engine.
type Sensor int

// Sensor streams, in the engine's numbering.
const (
	SensorAccelerometer Sensor = iota
	SensorGyroscope
	SensorRawAccelerometer
	SensorRawGyroscope
	SensorMagneticFieldUncalibrated
	SensorGyroscopeUncalibrated
	SensorActivityClassification
	SensorStepDetector
	SensorStepCounter
	SensorGameRotationVector
	SensorRotationVector
	SensorGeomagneticRotationVector
	SensorGeomagneticField
	SensorWakeupSignificantMotion
	SensorFlipPickup
	SensorWakeupTiltDetector
	SensorGravity
	SensorLinearAcceleration
	SensorOrientation
	SensorB2S

	// SensorMax is the number of streams
	SensorMax
)

// Compass identifies an auxiliary magnetometer behind the IMU's I2C master.
type Compass int

// Supported compasses.
const (
	CompassAK09911 Compass = iota + 1
	CompassAK09912
	CompassAK09916
)

// Serif is the register access the engine is given. Register numbers are
// passed as the engine sees them; the SPI read/write bit is applied by the
// callbacks.
type Serif struct {
	// ReadReg reads len(p) bytes starting at reg
	ReadReg func(reg byte, p []byte) error

	// WriteReg writes p starting at reg
	WriteReg func(reg byte, p []byte) error

	// MaxRead and MaxWrite bound one call
	MaxRead  int
	MaxWrite int

	// IsSPI tells the engine to use SPI register banking rules
	IsSPI bool
}

// EventHandler receives decoded engine output. data holds the sensor
// values, arg the accuracy or extra bytes when the stream has any.
type EventHandler func(s Sensor, timestamp uint64, data []float32, arg []byte)

// Engine is the vendor sensor-fusion engine. It owns the motion processor
// state and reaches the chip only through the Serif it is given.
type Engine interface {
	// ResetStates clears the engine state and binds the register access
	ResetStates(s Serif)

	// RegisterCompass declares the auxiliary magnetometer and its I2C address
	RegisterCompass(c Compass, addr byte)

	// WhoAmI reads the identification register
	WhoAmI() (byte, error)

	// SoftReset resets the chip
	SoftReset() error

	// InitMatrix resets every mounting matrix
	InitMatrix()

	// SetMatrix sets the mounting matrix of one stream
	SetMatrix(m [9]float32, s Sensor) error

	// Initialize loads the motion processor image and configures the chip
	Initialize(image []byte) error

	// InitStructure resets the engine's base state after Initialize
	InitStructure()

	// InitAuxiliary starts the auxiliary compass
	InitAuxiliary() error

	// SetFSR sets the full-scale range of a stream
	SetFSR(s Sensor, fsr int) error

	// EnableSensor starts or stops one stream
	EnableSensor(s Sensor, enable bool) error

	// Poll drains the FIFO and calls h for every decoded event
	Poll(h EventHandler) error
}
