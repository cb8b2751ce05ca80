package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/battle-replay/internal/api"
	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/highlight"
	"github.com/annel0/battle-replay/internal/persistence"
)

const defaultServerAddr = "http://localhost:8090"

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "REST API address")
		command    = flag.String("cmd", "list", "Command: list, show, state, highlights, events, play, upload, token")
		id         = flag.String("id", "", "Replay ID")
		file       = flag.String("file", "", "Local session document (play, upload)")
		territory  = flag.String("territory", "", "Territory ID filter")
		player     = flag.String("player", "", "Player ID filter")
		since      = flag.String("since", "", "Time duration since now (e.g., 1h, 30m) or RFC3339")
		limit      = flag.Int("limit", 20, "Maximum number of replays")
		at         = flag.Float64("t", 0, "Battle time in seconds (state, play)")
		from       = flag.Float64("from", -1, "Events after this time")
		to         = flag.Float64("to", -1, "Events up to this time")
		top        = flag.Int("n", -1, "Number of top highlights")
		speed      = flag.Float64("speed", 1, "Playback speed multiplier")
		tick       = flag.Duration("tick", 100*time.Millisecond, "Playback tick")
		token      = flag.String("token", os.Getenv("REPLAY_TOKEN"), "JWT for upload")
		secret     = flag.String("secret", os.Getenv("REPLAY_JWT_SECRET"), "JWT secret (token)")
		subject    = flag.String("subject", "replay-cli", "Token subject (token)")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := newReplayClient(*serverAddr, *token)
	codec := persistence.NewCodec(highlight.DefaultConfig())

	var err error
	switch *command {
	case "list":
		err = listReplays(ctx, client, *territory, *player, *since, *limit)

	case "show":
		err = showJSON(ctx, client, replayPath(*id, ""), nil)

	case "state":
		err = showJSON(ctx, client, replayPath(*id, "/state"), url.Values{"t": {fmt.Sprint(*at)}})

	case "highlights":
		err = showHighlights(ctx, client, *id, *top)

	case "events":
		q := url.Values{}
		if *from >= 0 {
			q.Set("from", fmt.Sprint(*from))
		}
		if *to >= 0 {
			q.Set("to", fmt.Sprint(*to))
		}
		err = showEvents(ctx, client, codec, *id, q)

	case "play":
		var s *battle.Session
		if s, err = loadSession(ctx, client, codec, *id, *file); err == nil {
			err = playSession(ctx, os.Stdout, s, *speed, *at, *tick)
		}

	case "upload":
		err = uploadFile(ctx, client, *file)

	case "token":
		if *secret == "" {
			log.Fatalf("❌ JWT secret is required (-secret or REPLAY_JWT_SECRET)")
		}
		var tok string
		if tok, err = api.IssueToken([]byte(*secret), *subject, "uploader", 24*time.Hour); err == nil {
			fmt.Println(tok)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: list, show, state, highlights, events, play, upload, token")
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

func replayPath(id, suffix string) string {
	if id == "" {
		log.Fatalf("❌ -id is required")
	}
	return "/api/replays/" + url.PathEscape(id) + suffix
}

// listReplays выводит таблицу сохранённых реплеев
func listReplays(ctx context.Context, client *replayClient, territory, player, since string, limit int) error {
	sinceTime, err := parseSinceTime(since, time.Now())
	if err != nil {
		return fmt.Errorf("invalid since time: %v", err)
	}
	sinceArg := ""
	if !sinceTime.IsZero() {
		sinceArg = sinceTime.UTC().Format(time.RFC3339)
	}

	list, err := client.List(ctx, territory, player, sinceArg, limit)
	if err != nil {
		return err
	}
	fmt.Printf("🎬 Replays: %d\n", len(list))
	for _, s := range list {
		winner := "DEF"
		if s.AttackerWon {
			winner = "ATK"
		}
		fmt.Printf("  %s  %s  %-16s %s vs %s  %6.1fs  %s  events=%d highlights=%d\n",
			s.StartTime.Format("2006-01-02 15:04"), s.ID, s.TerritoryID, s.AttackerID, s.DefenderID,
			s.Duration, winner, s.EventCount, s.HighlightCount)
	}
	return nil
}

// showJSON печатает поле data ответа с отступами
func showJSON(ctx context.Context, client *replayClient, path string, q url.Values) error {
	var data json.RawMessage
	if err := client.Get(ctx, path, q, &data); err != nil {
		return err
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func showHighlights(ctx context.Context, client *replayClient, id string, top int) error {
	var moments []struct {
		Type        string  `json:"type"`
		Timestamp   float64 `json:"timestamp"`
		Description string  `json:"description"`
		Importance  int     `json:"importance"`
	}
	q := url.Values{}
	if top >= 0 {
		q.Set("top", fmt.Sprint(top))
	}
	if err := client.Get(ctx, replayPath(id, "/highlights"), q, &moments); err != nil {
		return err
	}
	for _, m := range moments {
		fmt.Printf("  ★ %2d %7.2fs %-16s %s\n", m.Importance, m.Timestamp, m.Type, m.Description)
	}
	return nil
}

func showEvents(ctx context.Context, client *replayClient, codec *persistence.Codec, id string, q url.Values) error {
	var view struct {
		From   float64           `json:"from"`
		To     float64           `json:"to"`
		Events []json.RawMessage `json:"events"`
	}
	if err := client.Get(ctx, replayPath(id, "/events"), q, &view); err != nil {
		return err
	}
	for _, raw := range view.Events {
		ev, err := codec.DecodeEvent(raw)
		if err != nil {
			fmt.Printf("  ? %s\n", string(raw))
			continue
		}
		printEvent(os.Stdout, ev)
	}
	fmt.Printf("\n📊 Total events: %d (%.2fs, %.2fs]\n", len(view.Events), view.From, view.To)
	return nil
}

// loadSession читает документ из файла или скачивает его с сервера
func loadSession(ctx context.Context, client *replayClient, codec *persistence.Codec, id, file string) (*battle.Session, error) {
	var data []byte
	var err error
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		if id == "" {
			return nil, fmt.Errorf("-id or -file is required")
		}
		data, err = client.Document(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	s, report, err := codec.DecodeSessionReport(data)
	if err != nil {
		return nil, err
	}
	if report.DroppedEvents > 0 {
		fmt.Printf("⚠️  Dropped %d unreadable events\n", report.DroppedEvents)
	}
	return s, nil
}

func uploadFile(ctx context.Context, client *replayClient, file string) error {
	if file == "" {
		return fmt.Errorf("-file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	id, err := client.Upload(ctx, data)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Uploaded replay %s\n", id)
	return nil
}

// parseSinceTime парсит относительное время типа "1h", "30m" или RFC3339
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	since = strings.TrimSpace(since)
	if since == "" {
		return time.Time{}, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(time.RFC3339, since)
	}

	return from.Add(-duration), nil
}
