package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/norasector/lightspeed/pkg/lightspeed/instrument"
)

// ParseWaveform decodes an ASCII block
//
//	#<n><n digits of length><v0>,<v1>,...,<vk>,
//
// The element after the final separator is discarded.
func ParseWaveform(reply string) ([]float64, error) {
	reply = strings.TrimRight(reply, "\r\n")
	if len(reply) < 2 || reply[0] != '#' {
		return nil, fmt.Errorf("%w: missing block marker", instrument.ErrProtocol)
	}

	headerLen := int(reply[1] - '0')
	if headerLen < 0 || headerLen > 9 {
		return nil, fmt.Errorf("%w: bad header length %q", instrument.ErrProtocol, reply[1])
	}
	if len(reply) < 2+headerLen {
		return nil, fmt.Errorf("%w: truncated header", instrument.ErrProtocol)
	}
	if _, err := strconv.Atoi(reply[2 : 2+headerLen]); headerLen > 0 && err != nil {
		return nil, fmt.Errorf("%w: bad block length %q", instrument.ErrProtocol, reply[2:2+headerLen])
	}

	parts := strings.Split(reply[2+headerLen:], ",")
	parts = parts[:len(parts)-1]

	ret := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", instrument.ErrProtocol, i, err)
		}
		ret[i] = v
	}
	return ret, nil
}
