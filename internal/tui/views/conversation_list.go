package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/tui/ui"
)

// ConversationList is the main conversation list view.
type ConversationList struct {
	*tview.Table
	theme *ui.Theme
	convs []store.Conversation
	filter string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "s", Description: "Search"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
	}
}

// Update refreshes the list with new data.
func (cl *ConversationList) Update(convs []store.Conversation) {
	cl.convs = convs
	cl.render()
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" TYPE", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	row := 1
	for _, c := range cl.visible() {
		name := displayName(c)
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("(%d) %s", c.UnreadCount, name)
		}

		kind := "DM"
		if c.Kind == store.TargetChannel {
			kind = "CHANNEL"
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.LastMessagePreview))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(c.LastMessageAt)).SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(kind).SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		row++
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", row-1, len(cl.convs), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// visible returns the conversations passing the active filter.
func (cl *ConversationList) visible() []store.Conversation {
	if cl.filter == "" {
		return cl.convs
	}
	var out []store.Conversation
	for _, c := range cl.convs {
		if containsFold(displayName(c), cl.filter) || containsFold(c.LastMessagePreview, cl.filter) {
			out = append(out, c)
		}
	}
	return out
}

// Selected returns the target key of the currently selected conversation.
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // header row
	visible := cl.visible()
	if idx < 0 || idx >= len(visible) {
		return ""
	}
	return visible[idx].TargetKey
}

// ByIndex returns the target key of the Nth visible conversation
// (1-based).
func (cl *ConversationList) ByIndex(n int) string {
	visible := cl.visible()
	if n < 1 || n > len(visible) {
		return ""
	}
	return visible[n-1].TargetKey
}

func displayName(c store.Conversation) string {
	if c.Name != "" {
		return c.Name
	}
	return c.TargetKey
}

func formatTimestamp(ms int64) string {
	if ms <= 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
