package scpi

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
	"go.bug.st/serial"
)

const (
	serialScheme = "serial://"

	DefaultPort     = 5555
	DefaultBaudRate = 115200
)

// Dial opens the command channel to the instrument. Addresses of the form
// serial:///dev/ttyUSB0 use a serial port, everything else is a TCP
// host[:port]. Failures are reported as instrument.ErrConnectivity.
func Dial(ctx context.Context, address string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(address, serialScheme) {
		if baudRate <= 0 {
			baudRate = DefaultBaudRate
		}
		port, err := serial.Open(strings.TrimPrefix(address, serialScheme), &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", instrument.ErrConnectivity, address, err)
		}
		if timeout > 0 {
			if err := port.SetReadTimeout(timeout); err != nil {
				port.Close()
				return nil, fmt.Errorf("%w: set read timeout: %v", instrument.ErrConnectivity, err)
			}
		}
		return port, nil
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, fmt.Sprint(DefaultPort))
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", instrument.ErrConnectivity, address, err)
	}
	return conn, nil
}
