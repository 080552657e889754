// Package imu connects an ICM-20948 motion sensor to a vendor sensor-fusion
// engine.
//
// The engine is opaque: it is handed register read and write callbacks
// (Serif) and does all chip configuration itself. This package supplies
// those callbacks over a bus.Transport, sequences bring-up, and records the
// accelerometer, gyroscope, magnetometer and rotation events the engine
// decodes.
//
// On SPI the register address carries the transfer direction in bit 7; the
// callbacks set it for reads and clear it for writes. On I2C the address is
// sent unchanged.
package imu
