// Package periphbus binds periph.io SPI and I2C buses to bus.Transport.
//
// SPI devices are selected through GPIO chip-select pins so several flash
// parts can share one port; every TxData/RxData call is capped at the
// connection's MaxTxSize and returns the partial count, which the flash
// engine loops on. Without pins the controller's chip-select frames each
// transaction as a single TxPackets exchange. I2C devices are addressed by their 7-bit address.
//
//	if _, err := host.Init(); err != nil {
//	    return err
//	}
//	t, err := periphbus.OpenSPI("/dev/spidev0.0", 20*physic.MegaHertz, spi.Mode0, "GPIO8")
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
package periphbus
