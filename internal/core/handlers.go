package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"heraldbot/internal/message"
	"heraldbot/internal/services/selection"
	"heraldbot/internal/storage"
	"heraldbot/pkg/logx"
	"heraldbot/pkg/tgui"
)

// maxReminderRows caps the /reminders listing.
const maxReminderRows = 25

// commandSet is every chat command the router serves. Help is injected
// by the router itself.
func (a *App) commandSet() []Command {
	return []Command{
		{
			Route:       "remindme",
			Aliases:     []string{"remind"},
			Description: "pick a reminder time for the next event",
			Usage:       "/remindme",
			Access:      AccessMembers,
			Handle:      a.cmdRemindMe,
		},
		{
			Route:       "reminders",
			Description: "list queued reminders",
			Usage:       "/reminders",
			Access:      AccessOperator,
			Handle:      a.cmdReminders,
		},
		{
			Route:       "config show",
			Description: "current settings and feed summary",
			Usage:       "/config show",
			Access:      AccessOperator,
			Handle:      a.cmdConfigShow,
		},
		{
			Route:       "config announce",
			Description: "announce milestones in this chat",
			Usage:       "/config announce",
			Access:      AccessOperator,
			Handle:      a.cmdConfigAnnounce,
		},
		{
			Route:       "config secondary",
			Description: "route event-day milestones to this chat",
			Usage:       "/config secondary [off]",
			Access:      AccessOperator,
			Handle:      a.cmdConfigSecondary,
		},
		{
			Route:       "config access",
			Description: "minimum member role for the reminder picker",
			Usage:       "/config access <creator|administrator|member|restricted|off>",
			Access:      AccessOperator,
			Handle:      a.cmdConfigAccess,
		},
		{
			Route:       "config mention",
			Description: "mention text prepended to announcements",
			Usage:       "/config mention <text|off>",
			Access:      AccessOperator,
			Handle:      a.cmdConfigMention,
		},
		{
			Route:       "config submention",
			Description: "mention text for the secondary chat",
			Usage:       "/config submention <text|off>",
			Access:      AccessOperator,
			Handle:      a.cmdConfigSubmention,
		},
	}
}

// callbackSet routes the picker's inline keyboard. The flow re-checks
// access itself before mutating the queue.
func (a *App) callbackSet() []CallbackRoute {
	pick := func(ctx context.Context, req *Request) error {
		return a.flow.HandleCallback(ctx, req.Update.Callback)
	}
	actions := []string{selection.ActionDate, selection.ActionHour, selection.ActionBack, selection.ActionNone}
	routes := make([]CallbackRoute, 0, len(actions))
	for _, action := range actions {
		routes = append(routes, CallbackRoute{
			Namespace: selection.Namespace,
			Action:    action,
			Access:    AccessMembers,
			Handle:    pick,
		})
	}
	return routes
}

func (a *App) cmdRemindMe(ctx context.Context, req *Request) error {
	err := a.flow.Start(ctx, req.Chat.ChatID, req.Chat.ThreadID)
	switch {
	case errors.Is(err, selection.ErrNoEvent):
		return a.reply(ctx, req, message.NoUpcoming)
	case err != nil:
		_, _ = a.adapter.SendText(ctx, req.Chat, message.FeedUnavailable, nil)
		return err
	}
	return nil
}

func (a *App) cmdReminders(ctx context.Context, req *Request) error {
	jobs := a.queue.Pending()
	if len(jobs) == 0 {
		return a.reply(ctx, req, "No reminders queued.")
	}
	b := tgui.New().Title("⏰", fmt.Sprintf("%d queued reminder(s)", len(jobs)))
	for i, j := range jobs {
		if i == maxReminderRows {
			b.Line(fmt.Sprintf("… and %d more", len(jobs)-maxReminderRows))
			break
		}
		b.Bullets(fmt.Sprintf("%s → chat %d (%s)", message.Stamp(j.FireAt), j.ChatID, j.GroupKey))
	}
	_, err := b.Build().Send(ctx, a.adapter, req.Chat)
	return err
}

func (a *App) cmdConfigShow(ctx context.Context, req *Request) error {
	s := a.store.Settings()
	cfg := a.cfgm.Get()
	b := tgui.New().Title("🛠", "Configuration").
		KV("announce chat", chatLabel(s.AnnounceChatID)).
		KV("secondary chat", chatLabel(s.SecondaryChatID)).
		KV("access role", orUnset(s.AccessRole)).
		KV("team mention", orUnset(s.TeamMention)).
		KV("secondary mention", orUnset(s.SecondaryMention)).
		Blank().
		KV("feed", hostOnly(cfg.Calendar.FeedURL)).
		KV("poll interval", cfg.PollInterval().String()).
		KV("sweep interval", cfg.SweepInterval().String()).
		KV("storage", cfg.StorageDriver()+" at "+cfg.StoragePath())
	_, err := b.Build().Send(ctx, a.adapter, req.Chat)
	return err
}

func (a *App) cmdConfigAnnounce(ctx context.Context, req *Request) error {
	a.saveSettings(req, func(s *storage.Settings) { s.AnnounceChatID = req.Chat.ChatID })
	return a.reply(ctx, req, fmt.Sprintf("📣 Milestone announcements will be posted here (chat %d).", req.Chat.ChatID))
}

func (a *App) cmdConfigSecondary(ctx context.Context, req *Request) error {
	switch {
	case len(req.Args) == 0:
		a.saveSettings(req, func(s *storage.Settings) { s.SecondaryChatID = req.Chat.ChatID })
		return a.reply(ctx, req, fmt.Sprintf("📣 Event-day milestones will be posted here (chat %d).", req.Chat.ChatID))
	case strings.EqualFold(req.Args[0], "off"):
		a.saveSettings(req, func(s *storage.Settings) { s.SecondaryChatID = 0 })
		return a.reply(ctx, req, "🧹 Secondary chat cleared; everything goes to the announce chat.")
	default:
		return a.reply(ctx, req, "Usage: /config secondary [off]")
	}
}

func (a *App) cmdConfigAccess(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return a.reply(ctx, req, "Usage: /config access <creator|administrator|member|restricted|off>")
	}
	role := strings.ToLower(strings.TrimSpace(req.Args[0]))
	switch {
	case role == "off":
		a.saveSettings(req, func(s *storage.Settings) { s.AccessRole = "" })
		return a.reply(ctx, req, "🔓 Reminder picker opened to everyone.")
	case KnownRole(role):
		a.saveSettings(req, func(s *storage.Settings) { s.AccessRole = role })
		return a.reply(ctx, req, fmt.Sprintf("🔐 Reminder picker now requires role %q or higher.", role))
	default:
		return a.reply(ctx, req, "Unknown role. Use creator, administrator, member, restricted or off.")
	}
}

func (a *App) cmdConfigMention(ctx context.Context, req *Request) error {
	return a.setMention(ctx, req, "Team mention", "/config mention <text|off>",
		func(s *storage.Settings, v string) { s.TeamMention = v })
}

func (a *App) cmdConfigSubmention(ctx context.Context, req *Request) error {
	return a.setMention(ctx, req, "Secondary mention", "/config submention <text|off>",
		func(s *storage.Settings, v string) { s.SecondaryMention = v })
}

func (a *App) setMention(ctx context.Context, req *Request, label, usage string, set func(*storage.Settings, string)) error {
	text := strings.TrimSpace(strings.Join(req.Args, " "))
	switch {
	case text == "":
		return a.reply(ctx, req, "Usage: "+usage)
	case strings.EqualFold(text, "off"):
		a.saveSettings(req, func(s *storage.Settings) { set(s, "") })
		return a.reply(ctx, req, "🧹 "+label+" cleared.")
	default:
		a.saveSettings(req, func(s *storage.Settings) { set(s, text) })
		return a.reply(ctx, req, fmt.Sprintf("✅ %s set to %q.", label, text))
	}
}

func (a *App) reply(ctx context.Context, req *Request, text string) error {
	_, err := a.adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

// saveSettings applies the mutation; a persistence failure is logged
// and the in-memory value stands.
func (a *App) saveSettings(req *Request, fn func(*storage.Settings)) {
	if err := a.store.UpdateSettings(fn); err != nil {
		req.Log.Warn("settings not persisted", logx.Err(err))
	}
}

func chatLabel(id int64) string {
	if id == 0 {
		return "not set"
	}
	return strconv.FormatInt(id, 10)
}

func orUnset(s string) string {
	if strings.TrimSpace(s) == "" {
		return "not set"
	}
	return s
}

// hostOnly strips path and query; feed URLs routinely carry secret
// tokens.
func hostOnly(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "configured"
	}
	return u.Scheme + "://" + u.Host
}
