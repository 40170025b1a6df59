package instrument

import (
	"errors"

	"github.com/rs/zerolog"
)

// OpenWithFallback makes a single attempt at the live instrument. A
// connectivity failure is not fatal: the fallback is returned instead.
func OpenWithFallback(open func() (Instrument, error), fallback func() Instrument, logger zerolog.Logger) (Instrument, bool, error) {
	inst, err := open()
	if err == nil {
		return inst, false, nil
	}
	if !errors.Is(err, ErrConnectivity) {
		return nil, false, err
	}

	logger.Warn().Err(err).Msg("instrument not reachable, falling back to simulator")
	return fallback(), true, nil
}
