package advance

import (
	"abstream/internal/logger"
	"abstream/internal/models"
	"context"
	"sort"
	"time"
)

const (
	// readyWait bounds how long the advancer waits for the next chapter
	// to become playable before giving up silently.
	readyWait = 2 * time.Second
	// listTimeout bounds the whole chapter-listing walk.
	listTimeout = 10 * time.Second
)

// Lister pages through an audiobook's chapter listing.
type Lister interface {
	ListChapters(ctx context.Context, audiobookID string, page int) (*models.ChapterPage, error)
}

// Loader fetches chapter playlists.
type Loader interface {
	Load(ctx context.Context, chapterID string) (*models.Playlist, error)
}

// Player is the slice of the playback engine the advancer drives.
type Player interface {
	LoadChapter(audiobookID string, pl *models.Playlist)
	AwaitReady(ctx context.Context, timeout time.Duration) bool
	Play()
	Pause()
}

// Advancer moves playback to the next chapter when the current one plays
// out. Chapter order follows chapter numbers, not listing order. Reaching
// the end of the audiobook is not a failure: playback just stops.
type Advancer struct {
	logger logger.Logger
	lister Lister
	loader Loader
	player Player

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a chapter advancer.
func New(log logger.Logger, lister Lister, loader Loader, player Player) *Advancer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Advancer{
		logger: log,
		lister: lister,
		loader: loader,
		player: player,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnChapterEnded resolves and starts the chapter following the finished
// one. The engine dispatches notifications on their own goroutines, so
// the advancer may drive the player directly.
func (a *Advancer) OnChapterEnded(audiobookID, chapterID string) {
	a.Advance(audiobookID, chapterID)
}

// The advancer ignores the rest of the playback lifecycle.
func (a *Advancer) OnChapterLoaded(audiobookID, chapterID string) {}
func (a *Advancer) OnPlayStarted()                                {}
func (a *Advancer) OnPaused()                                     {}
func (a *Advancer) OnPlaybackError(err error)                     {}

// Advance finds the chapter numbered one above the finished chapter,
// loads its playlist and resumes playback once the engine reports ready.
// Every failure path stops playback cleanly without surfacing an error.
func (a *Advancer) Advance(audiobookID, finishedChapterID string) {
	next, ok := a.findNextChapter(audiobookID, finishedChapterID)
	if !ok {
		a.logger.Infof("No chapter after %s; stopping playback at end of audiobook %s", finishedChapterID, audiobookID)
		a.player.Pause()
		return
	}

	a.logger.Infof("Advancing to chapter %s (number %d)", next.ID, next.Number)
	pl, err := a.loader.Load(a.ctx, next.ID)
	if err != nil {
		a.logger.Warnf("Failed to load playlist for next chapter %s: %v", next.ID, err)
		a.player.Pause()
		return
	}

	a.player.LoadChapter(audiobookID, pl)
	if !a.player.AwaitReady(a.ctx, readyWait) {
		a.logger.Warnf("Chapter advance stopped: %v", models.ErrAdvanceTimeout)
		a.player.Pause()
		return
	}
	a.player.Play()
}

// findNextChapter walks the chapter listing page by page, stopping early
// once both the finished chapter and its successor number have been seen.
func (a *Advancer) findNextChapter(audiobookID, finishedChapterID string) (models.Chapter, bool) {
	ctx, cancel := context.WithTimeout(a.ctx, listTimeout)
	defer cancel()

	var chapters []models.Chapter
	for page := 1; ; page++ {
		chapterPage, err := a.lister.ListChapters(ctx, audiobookID, page)
		if err != nil {
			a.logger.Warnf("Failed to list chapters for audiobook %s (page %d): %v", audiobookID, page, err)
			return models.Chapter{}, false
		}
		chapters = append(chapters, chapterPage.Data...)

		if a.haveCurrentAndNext(chapters, finishedChapterID) {
			break
		}
		if !chapterPage.Pagination.HasNextPage {
			break
		}
	}

	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })

	current, ok := locate(chapters, finishedChapterID)
	if !ok {
		a.logger.Warnf("Finished chapter %s not present in listing for audiobook %s", finishedChapterID, audiobookID)
		return models.Chapter{}, false
	}

	for _, ch := range chapters {
		if ch.Number == current.Number+1 {
			return ch, true
		}
	}
	return models.Chapter{}, false
}

// haveCurrentAndNext reports whether the accumulated listing already
// contains the finished chapter and a chapter numbered one above it.
func (a *Advancer) haveCurrentAndNext(chapters []models.Chapter, finishedChapterID string) bool {
	current, ok := locate(chapters, finishedChapterID)
	if !ok {
		return false
	}
	for _, ch := range chapters {
		if ch.Number == current.Number+1 {
			return true
		}
	}
	return false
}

func locate(chapters []models.Chapter, id string) (models.Chapter, bool) {
	for _, ch := range chapters {
		if ch.ID == id {
			return ch, true
		}
	}
	return models.Chapter{}, false
}

// Stop cancels any in-progress advance.
func (a *Advancer) Stop() {
	a.cancel()
}
