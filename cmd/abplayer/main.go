package main

import (
	"abstream/internal/advance"
	"abstream/internal/api"
	"abstream/internal/cache"
	"abstream/internal/config"
	"abstream/internal/engine"
	"abstream/internal/logger"
	"abstream/internal/media"
	"abstream/internal/playlist"
	"abstream/internal/tracking"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// 1. Parse command-line arguments
	configFile := flag.String("c", "abstream.json", "Path to the config file")
	logLevel := flag.String("L", "", "Log level override (error, warn, info, debug)")
	audiobookID := flag.String("book", "", "Audiobook ID to play")
	chapterID := flag.String("chapter", "", "Chapter ID to start from")
	flag.Parse()

	if *audiobookID == "" || *chapterID == "" {
		fmt.Fprintln(os.Stderr, "both -book and -chapter are required")
		os.Exit(2)
	}

	// 2. Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 3. Initialize logger
	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log := logger.NewLogger(level)
	log.Infof("Starting headless audiobook player...")

	// 4. Initialize services
	client, err := api.NewClient(log, api.Endpoints{
		Playlist: cfg.PlaylistURL,
		Content:  cfg.ContentURL,
		Library:  cfg.LibraryURL,
		Tracking: cfg.TrackingURL,
	}, cfg.UserAgent, cfg.RequestTimeout)
	if err != nil {
		log.Errorf("Failed to initialize backend client: %v", err)
		os.Exit(1)
	}

	client.SetPreferredBitrate(cfg.Bitrate)

	segCache := cache.New(log, client)
	mediaEngine := media.NewSimEngine(250 * time.Millisecond)
	player := engine.New(log, segCache, mediaEngine)
	playlists := playlist.NewModel(log, client)

	scheduler := tracking.NewScheduler(log, client, player, cfg.UserID)
	player.AddListener(scheduler)

	advancer := advance.New(log, client, playlists, player)
	player.AddListener(advancer)

	// 5. Load the requested chapter and start playing
	pl, err := playlists.Load(context.Background(), *chapterID)
	if err != nil {
		log.Errorf("Failed to load chapter %s: %v", *chapterID, err)
		os.Exit(1)
	}
	player.LoadChapter(*audiobookID, pl)
	if !player.AwaitReady(context.Background(), 10*time.Second) {
		log.Errorf("First segment of chapter %s never became ready: %v", *chapterID, player.Err())
		os.Exit(1)
	}
	player.Play()

	// 6. Report progress until interrupted
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	progress := time.NewTicker(1 * time.Second)
	defer progress.Stop()

	for {
		select {
		case <-progress.C:
			_, chapter, position, playing := player.NowPlaying()
			if playing {
				fmt.Printf("chapter %s  %ds\n", chapter, position)
			}
		case <-quit:
			log.Infof("Shutting down...")
			player.Pause()
			player.Close()
			scheduler.Stop()
			advancer.Stop()
			segCache.Stop()
			log.Infof("Player exited gracefully")
			return
		}
	}
}
