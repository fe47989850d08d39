package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/tui/ui"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(c *store.Conversation, messageCount int64) {
	ci.Clear()
	if c == nil {
		return
	}

	kind := "Direct Message"
	if c.Kind == store.TargetChannel {
		kind = "Channel"
	}
	lastActive := formatTimestamp(c.LastMessageAt)
	if lastActive == "" {
		lastActive = "-"
	}

	ct := ui.ColorTag(ci.theme.CounterColor)
	text := fmt.Sprintf(
		"\n [::b]Name:[-:-:-]         [%s]%s[-]\n"+
			" [::b]Target:[-:-:-]       [%s]%s[-]\n"+
			" [::b]Type:[-:-:-]         [%s]%s[-]\n"+
			" [::b]Unread:[-:-:-]       [%s]%d[-]\n"+
			" [::b]Messages:[-:-:-]     [%s]%d[-]\n"+
			" [::b]Last Active:[-:-:-]  [%s]%s[-]\n"+
			" [::b]Last Message:[-:-:-] [%s]%s[-]",
		ct, tview.Escape(sanitizeForTerminal(displayName(*c))),
		ct, tview.Escape(c.TargetKey),
		ct, kind,
		ct, c.UnreadCount,
		ct, messageCount,
		ct, lastActive,
		ct, tview.Escape(sanitizeForTerminal(c.LastMessagePreview)),
	)

	_, _ = fmt.Fprint(ci, text)
	ci.SetTitle(fmt.Sprintf(" %s Details ", displayName(*c)))
}
