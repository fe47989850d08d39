package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/quillchat/quill/internal/tui/ui"
)

// HelpView displays the key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

func (hv *HelpView) render() {
	kc := fmt.Sprintf("#%06x", hv.theme.MenuKeyColor.Hex())

	help := fmt.Sprintf(`
  [::b]Global Keys[-:-:-]

  [%s]:[-:-:-]      Command mode       [%s]Esc[-:-:-]    Cancel / Go back
  [%s]/[-:-:-]      Filter mode        [%s]?[-:-:-]      Help
  [%s]q[-:-:-]      Quit / Back        [%s]Ctrl-C[-:-:-] Quit immediately

  [::b]Conversation List[-:-:-]

  [%s]Enter[-:-:-]  Open conversation  [%s]s[-:-:-]      Search messages
  [%s]1-9[-:-:-]    Jump to Nth chat   [%s]0[-:-:-]      Clear filter

  [::b]Message Thread[-:-:-]

  [%s]i[-:-:-]      Focus composer     [%s]d[-:-:-]      Conversation details
  [%s]j/k[-:-:-]    Scroll down/up     [%s]G[-:-:-]      Jump to latest
  [%s]PgUp/PgDn[-:-:-] Page scroll     [%s]Enter[-:-:-]  Send (in composer)

  [::b]Commands (: mode)[-:-:-]

  [%s]:open <target>[-:-:-]     Open a conversation by key
  [%s]:search <query>[-:-:-]    Search messages
  [%s]:help[-:-:-] / [%s]:h[-:-:-]        Show this help
  [%s]:quit[-:-:-] / [%s]:q[-:-:-]        Quit
`,
		kc, kc, kc, kc, kc, kc,
		kc, kc, kc, kc,
		kc, kc, kc, kc, kc, kc,
		kc, kc, kc, kc, kc, kc,
	)

	_, _ = fmt.Fprint(hv, help)
}
