// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

type imuSource struct {
	name string
	imu  *mpu9250.MPU9250
}

// NewIMUSource initializes an MPU9250 on spiDevice (e.g. /dev/spidev0.0)
// with chip select on csPin and returns a Source that reads roll/pitch from
// the accelerometer.
func NewIMUSource(spiDevice, csPin string) (Source, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU %s: CS pin %q not found", spiDevice, csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU %s: SPI transport: %w", spiDevice, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU %s: new device: %w", spiDevice, err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("IMU %s: init: %w", spiDevice, err)
	}
	if err := imu.Calibrate(); err != nil {
		return nil, fmt.Errorf("IMU %s: calibrate: %w", spiDevice, err)
	}

	return &imuSource{name: spiDevice, imu: imu}, nil
}

// Next reads the accelerometer and converts it with ComputePoseFromAccel.
// Only relative ratios matter, so raw counts are used without scaling.
func (s *imuSource) Next() (Pose, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return Pose{}, fmt.Errorf("IMU %s acc X: %w", s.name, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return Pose{}, fmt.Errorf("IMU %s acc Y: %w", s.name, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return Pose{}, fmt.Errorf("IMU %s acc Z: %w", s.name, err)
	}

	return ComputePoseFromAccel(float64(ax), float64(ay), float64(az)), nil
}
