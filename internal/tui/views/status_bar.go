package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/quillchat/quill/internal/conn"
	"github.com/quillchat/quill/internal/tui/ui"
)

// StatusBar displays the profile, connection state, queued count and
// flash messages.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	state   conn.State
	queued  int
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, state: conn.Connecting}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetConnectionState updates the connection display.
func (sb *StatusBar) SetConnectionState(state conn.State) {
	sb.state = state
	sb.render()
}

// SetQueued updates the pending delivery counter.
func (sb *StatusBar) SetQueued(n int) {
	sb.queued = n
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	var stateColor string
	switch sb.state {
	case conn.Connected:
		stateColor = ui.ColorTag(sb.theme.ConnOkColor)
	case conn.Connecting, conn.Reconnecting:
		stateColor = ui.ColorTag(sb.theme.ConnWarnColor)
	default:
		stateColor = ui.ColorTag(sb.theme.ConnErrColor)
	}

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-]", sb.profile, stateColor, sb.state)
	if sb.queued > 0 {
		line += fmt.Sprintf(" | [%s]%d pending[-]", ui.ColorTag(sb.theme.ConnWarnColor), sb.queued)
	}
	line += " | " + clock
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
