package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/timeline"
	"github.com/quillchat/quill/internal/tui/ui"
	"github.com/quillchat/quill/internal/viewport"
)

// MessageThread displays the windowed timeline of a single conversation:
// grouped messages, date dividers, pending and failed markers, a typing
// line and the new-messages notice.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	notice   *tview.TextView
	convName string
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().
		SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)

	notice := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	notice.SetBackgroundColor(theme.BgColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(notice, 1, 0, false)

	return &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		notice:   notice,
	}
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.convName != "" {
		return mt.convName
	}
	return "Messages"
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "j/k", Description: "Scroll"},
		{Key: "G", Description: "Latest"},
		{Key: "Esc", Description: "Back"},
		{Key: "?", Description: "Help"},
	}
}

// SetConversationName updates the view title.
func (mt *MessageThread) SetConversationName(name string) {
	mt.convName = name
	mt.messages.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update redraws the visible slice of the timeline.
func (mt *MessageThread) Update(rendered []viewport.Rendered) {
	mt.messages.Clear()
	for _, r := range rendered {
		_, _ = fmt.Fprint(mt.messages, r.Text)
	}
}

// SetTypingText updates the typing indicator line below the thread.
func (mt *MessageThread) SetTypingText(text string) {
	mt.typing.Clear()
	if text == "" {
		return
	}
	_, _ = fmt.Fprintf(mt.typing, " [%s::d]%s[-:-:-]",
		ui.ColorTag(mt.theme.TypingColor), tview.Escape(sanitizeForTerminal(text)))
}

// SetHasNewMessages toggles the jump-to-latest notice.
func (mt *MessageThread) SetHasNewMessages(show bool) {
	mt.notice.Clear()
	if !show {
		return
	}
	_, _ = fmt.Fprintf(mt.notice, "[%s::b]-- new messages below, G to jump --[-:-:-]",
		ui.ColorTag(mt.theme.CounterColor))
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// RenderItem produces display text for one timeline item. It is the
// render function handed to the viewport window, so a malformed item
// fails alone.
func (mt *MessageThread) RenderItem(it timeline.Item) (string, error) {
	if it.Kind == timeline.KindDivider {
		return fmt.Sprintf("[%s::d]――― %s ―――[-:-:-]\n",
			ui.ColorTag(mt.theme.DividerColor), it.Label), nil
	}

	m := it.Message
	if m == nil {
		return "", fmt.Errorf("render %s: no message payload", it.ID)
	}

	var b strings.Builder
	if it.GroupStart {
		author := m.AuthorName
		if author == "" {
			author = m.AuthorID
		}
		if m.FromMe {
			author = "You"
		}
		b.WriteString(fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n",
			ui.ColorTag(mt.theme.AuthorColor),
			tview.Escape(sanitizeForTerminal(author)),
			messageClock(m.Timestamp)))
	}

	switch {
	case m.Deleted:
		b.WriteString(fmt.Sprintf("[%s::d]message deleted[-:-:-]\n",
			ui.ColorTag(mt.theme.DividerColor)))
	default:
		body := tview.Escape(sanitizeForTerminal(m.Body))
		switch m.Status {
		case store.StatusPending:
			b.WriteString(fmt.Sprintf("[%s]%s …[-:-:-]\n",
				ui.ColorTag(mt.theme.PendingColor), body))
		case store.StatusFailed:
			b.WriteString(fmt.Sprintf("[%s]%s ! not delivered[-:-:-]\n",
				ui.ColorTag(mt.theme.FailedColor), body))
		default:
			b.WriteString(body)
			if m.Edited {
				b.WriteString(" [::d](edited)[-:-:-]")
			}
			b.WriteString("\n")
		}
		for _, att := range m.Attachments {
			b.WriteString(fmt.Sprintf("[::d]  attachment: %s[-:-:-]\n",
				tview.Escape(sanitizeForTerminal(att))))
		}
	}

	if it.GroupEnd {
		b.WriteString("\n")
	}
	return b.String(), nil
}

func messageClock(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).Format("15:04")
}
