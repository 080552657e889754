package imu

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/moffa90/go-flashdisk/bus"
	isync "github.com/moffa90/go-flashdisk/internal/sync"
)

const (
	// WhoAmIValue is the ICM-20948 identification.
	WhoAmIValue = 0xEA

	// CompassAddr is the default I2C address of the AK0991x compass.
	CompassAddr = 0x0C

	// MaxTransfer bounds one register read or write.
	MaxTransfer = 255

	// DefaultSettle is the pause after the soft reset. Motion detection
	// misbehaves when the chip is used earlier.
	DefaultSettle = 500 * time.Millisecond

	// accelSettle is the pause after the accelerometer range changes.
	accelSettle = 100 * time.Millisecond

	// eventScale converts engine output to the fixed-point units of Vector.
	eventScale = 256

	spiReadBit = 0x80
)

// Sentinel errors returned by Open.
var (
	ErrNoTransport = errors.New("imu: transport cannot be nil")
	ErrNoEngine    = errors.New("imu: engine cannot be nil")
)

// WhoAmIError reports an unexpected identification register value.
type WhoAmIError struct {
	Got byte
}

func (e *WhoAmIError) Error() string {
	return fmt.Sprintf("imu: WHO_AM_I is 0x%02X, expected 0x%02X", e.Got, WhoAmIValue)
}

// Vector is one three-axis sample in engine units times 256.
type Vector struct {
	X, Y, Z   float32
	Timestamp uint64
}

// Quaternion is the latest rotation vector from the engine.
type Quaternion struct {
	W, X, Y, Z float32
	Timestamp  uint64
}

// Logger is an optional logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type options struct {
	logger Logger
	image  []byte
	settle time.Duration
	sleep  func(time.Duration)
}

// Option configures a Device at Open.
type Option func(*options)

// WithLogger sets a logger.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithImage sets the motion processor image handed to Engine.Initialize.
func WithImage(image []byte) Option {
	return func(o *options) { o.image = image }
}

// WithSettle replaces the pause after the soft reset.
func WithSettle(d time.Duration) Option {
	return func(o *options) { o.settle = d }
}

// WithSleep replaces time.Sleep for the settle pauses.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// Device is an ICM-20948 accelerometer, gyroscope and magnetometer whose
// register traffic is driven by a fusion Engine.
type Device struct {
	t    bus.Transport
	addr int
	eng  Engine
	opts options
	spi  bool

	mu       isync.Mutex
	accel    Vector
	gyro     Vector
	mag      Vector
	quat     Quaternion
	accelFSR int
	gyroFSR  int
}

var identity = [9]float32{
	1, 0, 0,
	0, 1, 0,
	0, 0, 1,
}

// Open binds the IMU at devAddr (I2C address or chip select) to t and
// brings the engine up: register access, compass, identification, soft
// reset, settle pause, mounting matrices and motion processor image.
func Open(devAddr int, t bus.Transport, eng Engine, opts ...Option) (*Device, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	if eng == nil {
		return nil, ErrNoEngine
	}

	o := options{settle: DefaultSettle, sleep: time.Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		t:    t,
		addr: devAddr,
		eng:  eng,
		opts: o,
		spi:  t.Type() == bus.KindSPI,
	}

	eng.ResetStates(d.Serif())
	eng.RegisterCompass(CompassAK09916, CompassAddr)

	id, err := eng.WhoAmI()
	if err != nil {
		return nil, fmt.Errorf("read WHO_AM_I: %w", err)
	}
	if id != WhoAmIValue {
		return nil, &WhoAmIError{Got: id}
	}

	if err := eng.SoftReset(); err != nil {
		return nil, fmt.Errorf("soft reset: %w", err)
	}
	o.sleep(o.settle)

	eng.InitMatrix()
	for s := Sensor(0); s < SensorMax; s++ {
		if err := eng.SetMatrix(identity, s); err != nil {
			return nil, fmt.Errorf("set mounting matrix %d: %w", s, err)
		}
	}

	if err := eng.Initialize(o.image); err != nil {
		return nil, fmt.Errorf("initialize engine: %w", err)
	}
	eng.RegisterCompass(CompassAK09916, CompassAddr)
	eng.InitStructure()

	d.logInfo("imu open", "addr", devAddr, "spi", d.spi, "image_bytes", len(o.image))
	return d, nil
}

// Serif returns the register access handed to the engine.
func (d *Device) Serif() Serif {
	return Serif{
		ReadReg:  d.ReadReg,
		WriteReg: d.WriteReg,
		MaxRead:  MaxTransfer,
		MaxWrite: MaxTransfer,
		IsSPI:    d.spi,
	}
}

// ReadReg reads len(p) bytes starting at reg. On SPI the read bit is set in
// the register byte.
func (d *Device) ReadReg(reg byte, p []byte) error {
	if d.spi {
		reg |= spiReadBit
	}

	n, err := bus.Read(d.t, d.addr, []byte{reg}, p)
	if err != nil {
		return fmt.Errorf("read register 0x%02X: %w", reg&^spiReadBit, err)
	}
	if n <= 0 && len(p) > 0 {
		return fmt.Errorf("read register 0x%02X: %w", reg&^spiReadBit, bus.ErrStalled)
	}
	return nil
}

// WriteReg writes p starting at reg. On SPI the read bit is cleared.
func (d *Device) WriteReg(reg byte, p []byte) error {
	if d.spi {
		reg &^= spiReadBit
	}

	n, err := bus.Write(d.t, d.addr, []byte{reg}, p)
	if err != nil {
		return fmt.Errorf("write register 0x%02X: %w", reg, err)
	}
	if n <= 0 && len(p) > 0 {
		return fmt.Errorf("write register 0x%02X: %w", reg, bus.ErrStalled)
	}
	return nil
}

// InitAccel sets the accelerometer full-scale range in g.
func (d *Device) InitAccel(scale int) error {
	err := multierr.Combine(
		d.eng.SetFSR(SensorRawAccelerometer, scale),
		d.eng.SetFSR(SensorAccelerometer, scale),
	)
	if err != nil {
		return fmt.Errorf("set accelerometer range: %w", err)
	}

	d.mu.Lock()
	d.accelFSR = scale
	d.mu.Unlock()

	d.opts.sleep(accelSettle)
	return nil
}

// InitGyro sets the gyroscope full-scale range in degrees per second.
func (d *Device) InitGyro(sensitivity int) error {
	err := multierr.Combine(
		d.eng.SetFSR(SensorRawGyroscope, sensitivity),
		d.eng.SetFSR(SensorGyroscope, sensitivity),
		d.eng.SetFSR(SensorGyroscopeUncalibrated, sensitivity),
	)
	if err != nil {
		return fmt.Errorf("set gyroscope range: %w", err)
	}

	d.mu.Lock()
	d.gyroFSR = sensitivity
	d.mu.Unlock()
	return nil
}

// InitMag starts the auxiliary compass.
func (d *Device) InitMag() error {
	if err := d.eng.InitAuxiliary(); err != nil {
		return fmt.Errorf("initialize compass: %w", err)
	}
	return nil
}

// AccelScale returns the accelerometer range set by InitAccel.
func (d *Device) AccelScale() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accelFSR
}

// GyroSensitivity returns the gyroscope range set by InitGyro.
func (d *Device) GyroSensitivity() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gyroFSR
}

// Enable starts every sensor stream. All streams are attempted.
func (d *Device) Enable() error {
	return d.enableAll(true)
}

// Disable stops every sensor stream. All streams are attempted.
func (d *Device) Disable() error {
	return d.enableAll(false)
}

func (d *Device) enableAll(on bool) error {
	var err error
	for s := SensorMax - 1; s >= 0; s-- {
		err = multierr.Append(err, d.eng.EnableSensor(s, on))
	}
	if err != nil {
		d.logError("sensor enable failed", "enable", on, "error", err)
	}
	return err
}

// Reset soft-resets the chip.
func (d *Device) Reset() error {
	return d.eng.SoftReset()
}

// UpdateData polls the engine and records the events it decodes. Call it
// periodically or from the data-ready interrupt.
func (d *Device) UpdateData() error {
	return d.eng.Poll(d.handleEvent)
}

// Accel returns the latest accelerometer, gravity or linear acceleration
// sample.
func (d *Device) Accel() Vector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accel
}

// Gyro returns the latest calibrated gyroscope sample.
func (d *Device) Gyro() Vector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gyro
}

// Mag returns the latest calibrated magnetometer sample.
func (d *Device) Mag() Vector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mag
}

// Quat returns the latest rotation vector.
func (d *Device) Quat() Quaternion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quat
}

func (d *Device) handleEvent(s Sensor, ts uint64, data []float32, _ []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch s {
	case SensorGyroscope:
		d.gyro = scaled(data, ts)
	case SensorGravity, SensorLinearAcceleration, SensorAccelerometer:
		d.accel = scaled(data, ts)
	case SensorGeomagneticField:
		d.mag = scaled(data, ts)
	case SensorGameRotationVector, SensorRotationVector, SensorGeomagneticRotationVector:
		if len(data) >= 4 {
			d.quat = Quaternion{W: data[0], X: data[1], Y: data[2], Z: data[3], Timestamp: ts}
		}
	}
}

func scaled(data []float32, ts uint64) Vector {
	var v [3]float32
	copy(v[:], data)
	return Vector{
		X:         v[0] * eventScale,
		Y:         v[1] * eventScale,
		Z:         v[2] * eventScale,
		Timestamp: ts,
	}
}

func (d *Device) logInfo(msg string, keysAndValues ...interface{}) {
	if d.opts.logger != nil {
		d.opts.logger.Info(msg, keysAndValues...)
	}
}

func (d *Device) logError(msg string, keysAndValues ...interface{}) {
	if d.opts.logger != nil {
		d.opts.logger.Error(msg, keysAndValues...)
	}
}
