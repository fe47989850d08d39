package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/quillchat/quill/internal/tui/ui"
)

// Composer is the text input for sending messages. Every edit is
// reported through onChange so the typing debouncer sees keystrokes.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onChange func(text string)
}

// NewComposer creates a new message composer.
func NewComposer(theme *ui.Theme) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetTitle(" Compose (i to focus) ")
	input.SetTitleColor(theme.TitleColor)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if c.onChange != nil {
			c.onChange(text)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && c.onSend != nil {
			text := c.GetText()
			if text != "" {
				c.onSend(text)
				c.SetText("")
			}
		}
	})

	return c
}

// SetOnSend sets the callback when a message is submitted.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnChange sets the callback for composer edits.
func (c *Composer) SetOnChange(fn func(text string)) {
	c.onChange = fn
}
