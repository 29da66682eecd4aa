package bot

import (
	"context"
	"errors"
	"fmt"

	"webwatch_bot/internal/extract"
	"webwatch_bot/internal/model"
	"webwatch_bot/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to WebWatch Bot!

Track web pages and get new files delivered when they change.

Quick start:
1. /track <url> <minutes> — start monitoring a page
2. /documents <url> — list files on a page without tracking it

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/track <url> <minutes> [quiet] — monitor a page, checking every <minutes>.
    With "quiet", checks run only between 06:00 and 22:00.
/untrack <url> — stop monitoring a page
/list — show your tracked pages
/documents <url> — list downloadable files on a page (one-shot)

Interval must be between 1 and 1440 minutes.
New files found after a page change are sent to this chat.`)
}

func (b *Bot) handleTrack(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseTrackArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	t := model.Target{
		ChatID:          chatID,
		URL:             parsed.URL,
		IntervalMinutes: parsed.IntervalMinutes,
		QuietHours:      parsed.QuietHours,
	}
	if err := b.store.CreateTarget(ctx, &t); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save target: %v", err))
		return
	}

	// Re-tracking replaces the existing job rather than adding a second.
	b.sched.Add(ctx, t)

	quiet := ""
	if t.QuietHours {
		quiet = ", quiet hours on"
	}
	b.reply(chatID, fmt.Sprintf("Now tracking %s every %d min%s.", t.URL, t.IntervalMinutes, quiet))
}

func (b *Bot) handleUntrack(ctx context.Context, chatID int64, args string) {
	url, err := ParseURLArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /untrack <url>")
		return
	}

	err = b.store.DeleteTarget(ctx, chatID, url)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Not tracking %s.", url))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.sched.Remove(chatID, url)
	b.reply(chatID, fmt.Sprintf("Stopped tracking %s.", url))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	targets, err := b.store.ListTargets(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatTargetList(targets))
}

func (b *Bot) handleDocuments(ctx context.Context, chatID int64, args string) {
	url, err := ParseURLArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /documents <url>")
		return
	}

	body, err := b.fetcher.FetchPage(ctx, url)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to fetch: %v", err))
		return
	}

	files := extract.Files(body, url)
	b.reply(chatID, FormatDocumentList(files))
}
