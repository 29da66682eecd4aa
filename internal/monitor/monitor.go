// Package monitor orchestrates one poll cycle per tracked target: fetch,
// change detection, link extraction, file delivery, and state persistence.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"webwatch_bot/internal/extract"
	"webwatch_bot/internal/fetcher"
	"webwatch_bot/internal/model"
	"webwatch_bot/internal/storage"
)

// Notifier delivers files and messages to a chat.
type Notifier interface {
	SendMessage(chatID int64, text string)
	SendDocument(chatID int64, path, caption string) error
}

// Engine runs poll cycles against the tracking store.
type Engine struct {
	store    storage.Storage
	fetcher  *fetcher.Fetcher
	notifier Notifier
	log      *slog.Logger
}

// New creates an Engine.
func New(store storage.Storage, f *fetcher.Fetcher, n Notifier, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		fetcher:  f,
		notifier: n,
		log:      log,
	}
}

// PollOnce runs a single poll cycle for a tracked target. Fetch failures
// abort the cycle with no state change; the job stays armed for the next
// interval. A file's URL is marked seen only after its delivery was
// confirmed, so failed or oversized files are retried on future cycles.
func (e *Engine) PollOnce(ctx context.Context, chatID int64, pageURL string) {
	body, err := e.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		e.log.Error("fetch page", "chat_id", chatID, "url", pageURL, "error", err)
		return
	}

	target, err := e.store.GetTarget(ctx, chatID, pageURL)
	if errors.Is(err, storage.ErrNotFound) {
		// Untracked between fire and fetch.
		return
	}
	if err != nil {
		e.log.Error("load target", "chat_id", chatID, "url", pageURL, "error", err)
		return
	}

	hash := fetcher.Fingerprint(body)
	if !fetcher.Changed(target.Fingerprint, hash) {
		if err := e.store.UpdateLastCheck(ctx, target.ID); err != nil {
			e.log.Error("update last check", "chat_id", chatID, "url", pageURL, "error", err)
		}
		return
	}

	e.log.Info("page changed", "chat_id", chatID, "url", pageURL)

	files := extract.Files(body, pageURL)
	seen, err := e.store.ListSeenFiles(ctx, target.ID)
	if err != nil {
		e.log.Error("list seen files", "chat_id", chatID, "url", pageURL, "error", err)
		return
	}

	var delivered []string
	var summary []string
	for _, file := range files {
		if seen[file.URL] {
			continue
		}
		caption, ok := e.deliverFile(ctx, chatID, file)
		if !ok {
			continue
		}
		delivered = append(delivered, file.URL)
		summary = append(summary, caption)
		// Same URL listed twice on the page: deliver once.
		seen[file.URL] = true
	}

	if err := e.store.UpdateAfterPoll(ctx, target.ID, hash, delivered); err != nil {
		// Delivered files stay unmarked; the next cycle may re-deliver
		// them (at-least-once), but none are ever lost.
		e.log.Error("persist poll result", "chat_id", chatID, "url", pageURL, "error", err)
		return
	}

	if len(summary) > 0 {
		e.notifier.SendMessage(chatID, FormatSummary(pageURL, summary))
	}
}

// deliverFile downloads one extracted file and sends it to the chat.
// Returns the caption used and whether delivery was confirmed.
func (e *Engine) deliverFile(ctx context.Context, chatID int64, file model.ExtractedFile) (string, bool) {
	dl, err := e.fetcher.DownloadFile(ctx, file.URL, file.Name)
	if errors.Is(err, fetcher.ErrTooLarge) {
		e.log.Warn("file exceeds size limit, skipping", "chat_id", chatID, "file_url", file.URL)
		return "", false
	}
	if err != nil {
		e.log.Error("download file", "chat_id", chatID, "file_url", file.URL, "error", err)
		return "", false
	}
	defer func() { _ = os.Remove(dl.Path) }()

	caption := fmt.Sprintf("%s (%s, %s)", file.Name, file.Type, humanize.Bytes(uint64(dl.Size)))
	if err := e.notifier.SendDocument(chatID, dl.Path, caption); err != nil {
		e.log.Error("deliver file", "chat_id", chatID, "file_url", file.URL, "error", err)
		return "", false
	}
	return caption, true
}

// FormatSummary builds the aggregate message sent after a cycle that
// delivered at least one file.
func FormatSummary(pageURL string, captions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Website updated: %s\n", pageURL)
	b.WriteString("New files:\n")
	for _, c := range captions {
		b.WriteString(c)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
