package integration

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/reflux"
	refluxtest "github.com/zoobzio/reflux/testing"
)

// settingsPanel is a component with persistent, validated fields and a
// widget bound to one of them.
type settingsPanel struct {
	Volume     float64                      `reflux:"audio.volume,persistent" range:"0,1"`
	Difficulty string                       `reflux:"game.difficulty,persistent" validate:"oneof=easy normal hard"`
	VolumeText *refluxtest.RecordingWidget `bind:"audio.volume,converter=percent"`
}

func newSettingsPanel() *settingsPanel {
	return &settingsPanel{
		Volume:     0.8,
		Difficulty: "normal",
		VolumeText: &refluxtest.RecordingWidget{},
	}
}

// Identity implements reflux.Identifier.
func (p *settingsPanel) Identity() string { return "settings-panel" }

// waitForTick ticks rt until condition holds or timeout is reached, so
// reloads queued for the main loop get applied.
func waitForTick(t *testing.T, rt *reflux.Runtime, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	return refluxtest.WaitFor(t, timeout, func() bool {
		rt.Tick(context.Background())
		return condition()
	})
}
