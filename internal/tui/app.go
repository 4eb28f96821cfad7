// Package tui is the terminal client. It drives a running daemon over its
// socket and redraws from the daemon's event stream.
package tui

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/glide/internal/client"
	domain "github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/tui/keys"
	"github.com/matheus3301/glide/internal/tui/model"
	"github.com/matheus3301/glide/internal/tui/ui"
	"github.com/matheus3301/glide/internal/tui/views"
)

const (
	pageLogin         = "login"
	pageConversations = "conversations"
	pageThread        = "thread"
	pagePeople        = "people"
	pageHelp          = "help"

	callTimeout   = 10 * time.Second
	resubscribeIn = 2 * time.Second
)

// App is the TUI shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	root     *tview.Flex
	vm       *model.ViewModel
	client   *client.Client
	registry *keys.Registry
	theme    *ui.Theme

	prompt    *ui.Prompt
	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.MessageThread
	people    *views.PeopleView
	login     *views.LoginView
	help      *views.HelpView

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI for the daemon behind c.
func NewApp(c *client.Client) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		client:    c,
		registry:  keys.NewRegistry(),
		theme:     theme,
		prompt:    ui.NewPrompt(theme),
		statusBar: views.NewStatusBar(theme),
		convList:  views.NewConversationList(theme),
		thread:    views.NewMessageThread(theme),
		people:    views.NewPeopleView(theme),
		login:     views.NewLoginView(theme),
		help:      views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.Global(&keys.Action{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: a.Stop})
	a.registry.Global(&keys.Action{Key: tcell.KeyRune, Rune: '?', Hint: "?:help", Handler: func() { a.show(pageHelp, a.help) }})
	a.registry.Global(&keys.Action{Key: tcell.KeyRune, Rune: 'n', Hint: "n:new chat", Handler: func() { a.show(pagePeople, a.people.Input()) }})
	a.registry.Global(&keys.Action{Key: tcell.KeyRune, Rune: ':', Handler: func() { a.openPrompt(ui.PromptCommand) }})

	a.registry.Page(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: '/', Hint: "/:filter", Handler: func() { a.openPrompt(ui.PromptFilter) }})
	a.registry.Page(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'D', Hint: "D:delete", Handler: a.deleteConversation})
	for n := '1'; n <= '9'; n++ {
		idx := int(n - '0')
		a.registry.Page(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: n, Handler: func() {
			if id := a.convList.At(idx); id != "" {
				a.openConversation(id)
			}
		}})
	}

	a.registry.Page(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'i', Hint: "i:compose", Handler: func() { a.app.SetFocus(a.thread.Composer()) }})
	a.registry.Page(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Hint: "r:retry", Handler: a.retrySelected})
	a.registry.Page(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'x', Hint: "x:delete", Handler: a.deleteSelected})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, _ int) {
		if id := a.convList.At(row); id != "" {
			a.openConversation(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		a.do("send", func(ctx context.Context) error {
			if err := a.vm.Send(ctx, text); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedMessages) })
			return nil
		})
	})

	a.people.SetOnQuery(func(term string) { a.searchPeople(term) })
	a.people.SetOnPick(func(u domain.Identity) { a.startChat(u) })

	a.login.SetOnSubmit(func(token string) { a.signIn(token) })

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.closePrompt()
		if mode == ui.PromptFilter {
			a.convList.SetFilter(text)
			return
		}
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(a.closePrompt)
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageLogin, a.login, true, false)
	a.pages.AddPage(pageConversations, a.convList, true, true)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pagePeople, a.people, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(a.root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		if _, typing := a.app.GetFocus().(*tview.InputField); typing {
			if event.Key() == tcell.KeyEscape && a.app.GetFocus() == a.thread.Composer() {
				a.app.SetFocus(a.thread.Table())
				return nil
			}
			return event
		}

		if event.Key() == tcell.KeyEscape {
			switch page {
			case pageThread:
				a.vm.Close()
				a.show(pageConversations, a.convList)
				return nil
			case pagePeople, pageHelp:
				a.show(pageConversations, a.convList)
				return nil
			}
		}
		if page == pageLogin {
			return event
		}
		if a.registry.Handle(page, event) {
			return nil
		}
		return event
	})
}

// Run starts the TUI and blocks until it quits.
func (a *App) Run() error {
	go a.bootstrap()
	go a.follow()
	go a.tick()
	return a.app.Run()
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) bootstrap() {
	ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
	defer cancel()
	if err := a.vm.LoadStatus(ctx); err != nil {
		a.vm.Flash.Error("status", err)
	}
	if a.vm.SelfID() == "" {
		a.app.QueueUpdateDraw(func() {
			a.show(pageLogin, a.login.Input())
			a.redraw(model.ChangedStatus)
		})
		return
	}
	if err := a.vm.LoadConversations(ctx); err != nil {
		a.vm.Flash.Error("conversations", err)
	}
	a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedStatus | model.ChangedConversations) })
}

// follow keeps a subscription to the daemon's events, resubscribing after
// the stream breaks.
func (a *App) follow() {
	for a.ctx.Err() == nil {
		stream, err := a.client.WatchEvents(a.ctx, "")
		if err == nil {
			err = a.vm.Follow(stream, func(ch model.Change) {
				a.app.QueueUpdateDraw(func() { a.redraw(ch) })
			})
		}
		if a.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.vm.Flash.Error("event stream", err)
		}
		select {
		case <-time.After(resubscribeIn):
		case <-a.ctx.Done():
			return
		}
		a.bootstrap()
	}
}

// tick redraws the status bar so flashes expire.
func (a *App) tick() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedStatus) })
		case <-a.ctx.Done():
			return
		}
	}
}

// redraw must run on the UI goroutine.
func (a *App) redraw(ch model.Change) {
	page, _ := a.pages.GetFrontPage()
	st := a.vm.Status()

	if ch&model.ChangedStatus != 0 {
		switch {
		case st.Identity == nil && page != pageLogin:
			a.vm.Close()
			a.show(pageLogin, a.login.Input())
			page = pageLogin
		case st.Identity != nil && page == pageLogin:
			a.show(pageConversations, a.convList)
			page = pageConversations
		}
	}
	if ch&model.ChangedConversations != 0 {
		a.convList.Update(a.vm.Conversations())
	}
	if ch&model.ChangedMessages != 0 && page == pageThread {
		if a.vm.ActiveID() == "" {
			a.show(pageConversations, a.convList)
			page = pageConversations
		} else {
			a.thread.Update(a.vm.Messages(), a.vm.SelfID(), a.vm.PaneError())
		}
	}
	flash, level := a.vm.Flash.Get()
	a.statusBar.Render(st, flash, level, a.registry.Hints(page))
}

func (a *App) show(page string, focus tview.Primitive) {
	a.pages.SwitchToPage(page)
	a.app.SetFocus(focus)
}

func (a *App) openPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	page, item := a.pages.GetFrontPage()
	if page == pageThread {
		item = a.thread.Table()
	}
	a.app.SetFocus(item)
}

// do runs fn off the UI goroutine with a deadline and flashes its error.
func (a *App) do(what string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.vm.Flash.Error(what, err)
			a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedStatus) })
		}
	}()
}

func (a *App) openConversation(id string) {
	name := id
	if c, ok := a.vm.Conversation(id); ok {
		name = c.Partner.Name
		if name == "" {
			name = c.Partner.ID
		}
	}
	a.thread.SetName(name)
	a.thread.Update(nil, a.vm.SelfID(), "")
	a.show(pageThread, a.thread.Table())
	a.do("open", func(ctx context.Context) error {
		if err := a.vm.Open(ctx, id); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedMessages) })
		return nil
	})
}

func (a *App) retrySelected() {
	m, ok := a.thread.Selected()
	if !ok || m.State != domain.Failed.String() {
		return
	}
	a.do("retry", func(ctx context.Context) error {
		if err := a.vm.Retry(ctx, m.ID); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedMessages) })
		return nil
	})
}

func (a *App) deleteSelected() {
	m, ok := a.thread.Selected()
	if !ok || m.SenderID != a.vm.SelfID() || m.State == domain.Deleted.String() {
		return
	}
	a.do("delete", func(ctx context.Context) error { return a.vm.Delete(ctx, m.ID) })
}

func (a *App) deleteConversation() {
	id := a.convList.Selected()
	if id == "" {
		return
	}
	a.do("delete conversation", func(ctx context.Context) error {
		if err := a.vm.DeleteConversation(ctx, id); err != nil {
			return err
		}
		a.vm.Flash.Info("conversation deleted")
		a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedConversations | model.ChangedStatus) })
		return nil
	})
}

func (a *App) searchPeople(term string) {
	a.do("search", func(ctx context.Context) error {
		if err := a.vm.Search(ctx, term); err != nil {
			return err
		}
		users := a.vm.Users()
		a.app.QueueUpdateDraw(func() {
			a.people.Update(users)
			a.show(pagePeople, a.people.Results())
		})
		return nil
	})
}

func (a *App) startChat(u domain.Identity) {
	a.do("start chat", func(ctx context.Context) error {
		id, err := a.vm.StartChat(ctx, u)
		if err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() {
			a.redraw(model.ChangedConversations)
			a.openConversation(id)
		})
		return nil
	})
}

func (a *App) signIn(token string) {
	a.login.ShowMessage("Signing in...")
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		id, err := a.vm.Login(ctx, token)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.login.ShowError(err)
				return
			}
			a.vm.Flash.Info("signed in as " + id.Name)
			a.redraw(model.ChangedStatus | model.ChangedConversations)
		})
	}()
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "quit":
		a.Stop()
	case "help":
		a.show(pageHelp, a.help)
	case "chat":
		a.searchPeople(cmd.Args)
	case "reconnect":
		a.do("reconnect", func(ctx context.Context) error { return a.vm.Reconnect(ctx) })
	case "reload":
		if id := a.vm.ActiveID(); id != "" {
			a.openConversation(id)
		}
	case "login":
		if cmd.Args == "" {
			a.show(pageLogin, a.login.Input())
			return
		}
		a.signIn(cmd.Args)
	case "logout":
		a.do("logout", func(ctx context.Context) error {
			if err := a.vm.Logout(ctx); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(func() { a.redraw(model.ChangedStatus | model.ChangedConversations) })
			return nil
		})
	default:
		if n, err := strconv.Atoi(cmd.Name); err == nil {
			if id := a.convList.At(n); id != "" {
				a.openConversation(id)
				return
			}
		}
		a.vm.Flash.Set(model.LevelWarn, "unknown command: "+strings.TrimSpace(cmd.Name), 3*time.Second)
	}
}
