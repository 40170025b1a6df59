package lightspeed

import (
	"context"

	"github.com/norasector/lightspeed/pkg/lightspeed/config"
	"github.com/norasector/lightspeed/pkg/lightspeed/display"
)

// Options carries the per-process configuration. A nil section means that
// process' configuration was missing: the process takes part in the
// shutdown handshake but does no work.
type Options struct {
	Acquisition *config.Acquisition
	Display     *config.Display
	Leaderboard *config.Leaderboard
	Outputs     []Output
}

// Output receives every enriched frame.
type Output interface {
	display.Sink
	// Start should run in a loop, terminating upon ctx closing or on any errors.
	Start(ctx context.Context) error
}
