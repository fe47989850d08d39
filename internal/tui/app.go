// Package tui implements the terminal user interface: a stack of pages
// over the chat engine, with a breadcrumb bar, menu hints, a command
// prompt and a status bar.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/quillchat/quill/internal/bus"
	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/internal/outbound"
	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/tui/keys"
	"github.com/quillchat/quill/internal/tui/ui"
	"github.com/quillchat/quill/internal/tui/views"
)

// pxPerRow maps terminal rows onto the engine's pixel-based heights.
const pxPerRow = 20

// pages
const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageSearch        = "search"
	pageDetails       = "details"
	pageHelp          = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *ui.Pages
	theme    *ui.Theme
	registry *keys.Registry
	engine   *engine.Engine
	db       *store.DB
	bus      *bus.Bus
	flash    *ui.FlashModel

	crumbs    *ui.Crumbs
	menu      *ui.Menu
	prompt    *ui.Prompt
	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.MessageThread
	composer  *views.Composer
	searchV   *views.SearchView
	infoV     *views.ConversationInfo
	helpV     *views.HelpView

	root   *tview.Flex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(e *engine.Engine, db *store.DB, b *bus.Bus, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     ui.NewPages(),
		theme:     theme,
		registry:  keys.NewRegistry(),
		engine:    e,
		db:        db,
		bus:       b,
		flash:     ui.NewFlashModel(),
		crumbs:    ui.NewCrumbs(theme),
		menu:      ui.NewMenu(theme),
		prompt:    ui.NewPrompt(theme),
		statusBar: views.NewStatusBar(theme),
		convList:  views.NewConversationList(theme),
		thread:    views.NewMessageThread(theme),
		composer:  views.NewComposer(theme),
		searchV:   views.NewSearchView(theme),
		infoV:     views.NewConversationInfo(theme),
		helpV:     views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Handler: func() { a.pages.Push(pageHelp) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})

	a.registry.AddView(pageConversations, "search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Handler: func() { a.showSearch() },
	})
	a.registry.AddView(pageConversations, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageConversations, "clear-filter", &keys.Action{
		Rune: '0', Key: tcell.KeyRune,
		Handler: func() { a.convList.ClearFilter() },
	})
	for i := 1; i <= 9; i++ {
		n := i
		a.registry.AddView(pageConversations, fmt.Sprintf("jump-%d", n), &keys.Action{
			Rune: rune('0' + n), Key: tcell.KeyRune,
			Handler: func() {
				if key := a.convList.ByIndex(n); key != "" {
					a.openConversation(key)
				}
			},
		})
	}

	a.registry.AddView(pageThread, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddView(pageThread, "details", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Handler: func() { a.showDetails() },
	})
	a.registry.AddView(pageThread, "scroll-down", &keys.Action{
		Rune: 'j', Key: tcell.KeyRune,
		Handler: func() { a.scrollBy(2 * pxPerRow) },
	})
	a.registry.AddView(pageThread, "scroll-up", &keys.Action{
		Rune: 'k', Key: tcell.KeyRune,
		Handler: func() { a.scrollBy(-2 * pxPerRow) },
	})
	a.registry.AddView(pageThread, "page-down", &keys.Action{
		Key:     tcell.KeyPgDn,
		Handler: func() { a.scrollBy(a.viewportPx()) },
	})
	a.registry.AddView(pageThread, "page-up", &keys.Action{
		Key:     tcell.KeyPgUp,
		Handler: func() { a.scrollBy(-a.viewportPx()) },
	})
	a.registry.AddView(pageThread, "jump-latest", &keys.Action{
		Rune: 'G', Key: tcell.KeyRune,
		Handler: func() {
			a.engine.JumpToLatest()
			a.refreshThread()
		},
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if key := a.convList.Selected(); key != "" {
			a.openConversation(key)
		}
	})

	a.composer.SetOnChange(func(text string) {
		a.engine.OnContentChange(text)
	})
	a.composer.SetOnSend(func(text string) {
		go func() {
			if _, err := a.engine.Submit(a.ctx, text, nil, ""); err != nil {
				a.flash.Err(fmt.Errorf("send failed: %w", err))
			}
			a.app.QueueUpdateDraw(func() {
				a.refreshThread()
				a.refreshStatus()
			})
		}()
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.db.SearchMessages(query, "", 100)
			if err != nil {
				a.flash.Err(fmt.Errorf("search failed: %w", err))
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})
	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		if key, _ := a.searchV.SelectedResult(); key != "" {
			a.openConversation(key)
		}
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.convList.SetFilter(text)
		}
	})
	a.prompt.SetOnCancel(func() { a.hidePrompt() })

	a.pages.SetOnChange(func(stack []string) {
		a.crumbs.Update(stack)
		a.menu.Update(a.hintsFor(a.pages.Current()))
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, true).
		AddItem(a.composer, 3, 0, false)

	a.pages.AddPage(pageConversations, a.convList, true, false)
	a.pages.AddPage(pageThread, threadFlex, true, false)
	a.pages.AddPage(pageSearch, a.searchV, true, false)
	a.pages.AddPage(pageDetails, a.infoV, true, false)
	a.pages.AddPage(pageHelp, a.helpV, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.menu, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.pages.Reset(pageConversations)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		current := a.pages.Current()

		if event.Key() == tcell.KeyEscape {
			focused := a.app.GetFocus()
			if focused == a.composer.InputField {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			if focused == a.prompt.InputField {
				return event // the prompt handles its own Escape
			}
			if current != pageConversations {
				a.pages.Pop()
				a.focusCurrent()
				return nil
			}
			return nil
		}

		// Text inputs consume all other keys.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(current, event) {
			return nil
		}
		return event
	})
}

func (a *App) hintsFor(page string) []ui.MenuHint {
	var c ui.Component
	switch page {
	case pageConversations:
		c = a.convList
	case pageThread:
		c = a.thread
	case pageSearch:
		c = a.searchV
	case pageDetails:
		c = a.infoV
	case pageHelp:
		c = a.helpV
	}
	if c == nil {
		return nil
	}
	return c.Hints()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageConversations:
		a.app.SetFocus(a.convList)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.searchV.Input())
	default:
		a.app.SetFocus(a.pages)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt.InputField)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "open":
		if cmd.Args != "" {
			a.openConversation(cmd.Args)
		}
	case "search":
		a.showSearch()
		if cmd.Args != "" {
			a.searchV.Input().SetText(cmd.Args)
		}
	case "help", "h":
		a.pages.Push(pageHelp)
	case "quit", "q":
		a.Stop()
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
	}
}

func (a *App) showSearch() {
	a.pages.Push(pageSearch)
	a.app.SetFocus(a.searchV.Input())
}

func (a *App) showDetails() {
	target := a.engine.ActiveTarget()
	if target == "" {
		return
	}
	go func() {
		c, err := a.db.GetConversation(target)
		if err != nil {
			a.flash.Err(err)
			return
		}
		count, _ := a.db.ConversationMessageCount(target)
		a.app.QueueUpdateDraw(func() {
			a.infoV.Update(c, count)
			a.pages.Push(pageDetails)
		})
	}()
}

func (a *App) openConversation(targetKey string) {
	go func() {
		if err := a.engine.SwitchConversation(targetKey); err != nil {
			a.flash.Err(fmt.Errorf("open failed: %w", err))
			return
		}
		name := targetKey
		if c, err := a.db.GetConversation(targetKey); err == nil && c != nil && c.Name != "" {
			name = c.Name
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.SetConversationName(name)
			if a.pages.Current() != pageThread {
				a.pages.Push(pageThread)
			}
			a.refreshThread()
			a.app.SetFocus(a.thread.Messages())
		})
	}()
}

func (a *App) scrollBy(deltaPx int) {
	a.engine.OnScroll(a.engine.ScrollTop() + deltaPx)
	a.refreshThread()
}

// viewportPx returns the thread view's inner height in engine pixels.
func (a *App) viewportPx() int {
	_, _, _, rows := a.thread.Messages().GetInnerRect()
	if rows <= 0 {
		rows = 24
	}
	return rows * pxPerRow
}

// refreshThread re-renders the visible window and reports the laid-out
// heights back to the engine.
func (a *App) refreshThread() {
	vh := a.viewportPx()
	a.engine.SetViewportSize(vh)

	rendered := a.engine.Window().Render(a.engine.ScrollTop(), vh, a.thread.RenderItem)
	a.thread.Update(rendered)
	for _, r := range rendered {
		if r.Failed {
			continue
		}
		lines := strings.Count(r.Text, "\n")
		if lines > 0 {
			a.engine.ReportMeasuredHeight(r.Item.ID, lines*pxPerRow)
		}
	}

	a.thread.SetTypingText(a.engine.TypingDisplayText())
	a.thread.SetHasNewMessages(a.engine.HasNewMessages())
}

func (a *App) refreshStatus() {
	a.statusBar.SetConnectionState(a.engine.ConnectionState())
	a.statusBar.SetQueued(a.engine.QueuedCount())
	if m := a.flash.GetMessage(); m != nil {
		a.statusBar.SetFlash(m.Text)
	} else {
		a.statusBar.SetFlash("")
	}
}

func (a *App) loadConversations() {
	go func() {
		convs, err := a.db.ListConversations(200, 0)
		if err != nil {
			a.flash.Err(err)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(convs)
		})
	}()
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.loadConversations()
	a.menu.Update(a.hintsFor(pageConversations))
	a.startEventLoop()
	return a.app.Run()
}

// startEventLoop drives redraws from bus events plus a slow tick for the
// clock and flash expiry.
func (a *App) startEventLoop() {
	events, unsub := a.bus.Subscribe("", 128)
	ticker := time.NewTicker(time.Second)

	go func() {
		defer unsub()
		defer ticker.Stop()
		for {
			select {
			case evt := <-events:
				a.handleEvent(evt)
			case <-ticker.C:
				a.app.QueueUpdateDraw(a.refreshStatus)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageDropped:
		if d, ok := evt.Payload.(outbound.Delivery); ok {
			a.flash.Warn(fmt.Sprintf("message could not be delivered: %s", d.Err))
		}
	case bus.KindMessageUpserted:
		a.loadConversations()
	}

	a.app.QueueUpdateDraw(func() {
		if a.pages.Current() == pageThread {
			a.refreshThread()
		}
		a.refreshStatus()
	})
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
