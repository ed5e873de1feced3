package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/hybridmind/internal/backend"
	"github.com/matheus3301/hybridmind/internal/backend/gemini"
	"github.com/matheus3301/hybridmind/internal/backend/local"
	"github.com/matheus3301/hybridmind/internal/chat"
	"github.com/matheus3301/hybridmind/internal/cloudsync"
	"github.com/matheus3301/hybridmind/internal/config"
	"github.com/matheus3301/hybridmind/internal/download"
	"github.com/matheus3301/hybridmind/internal/engine"
	"github.com/matheus3301/hybridmind/internal/identity"
	"github.com/matheus3301/hybridmind/internal/lock"
	"github.com/matheus3301/hybridmind/internal/netmon"
	"github.com/matheus3301/hybridmind/internal/paths"
	"github.com/matheus3301/hybridmind/internal/prune"
	"github.com/matheus3301/hybridmind/internal/store"
	"go.uber.org/zap"
)

func main() {
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "sessions":
		if len(args) >= 2 && args[1] == "list" {
			cmdSessionsList(*jsonFlag)
		} else if len(args) >= 2 && args[1] == "new" {
			cmdSessionsNew()
		} else {
			fmt.Fprintln(os.Stderr, "usage: hybridmindctl sessions <list|new>")
			os.Exit(1)
		}
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: hybridmindctl send <session-id> <prompt>")
			os.Exit(1)
		}
		cmdSend(args[1], args[2])
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: hybridmindctl history <session-id>")
			os.Exit(1)
		}
		cmdHistory(args[1], *jsonFlag)
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: hybridmindctl delete <session-id|all>")
			os.Exit(1)
		}
		cmdDelete(args[1])
	case "download":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: hybridmindctl download <model|vision>")
			os.Exit(1)
		}
		cmdDownload(args[1])
	case "restore":
		cmdRestore()
	case "prune":
		cmdPrune()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: hybridmindctl [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  sessions list      List chat sessions")
	fmt.Fprintln(os.Stderr, "  sessions new       Create a chat session")
	fmt.Fprintln(os.Stderr, "  send <id> <text>   Send a prompt in a session")
	fmt.Fprintln(os.Stderr, "  history <id>       Show a session transcript")
	fmt.Fprintln(os.Stderr, "  delete <id|all>    Delete one or all sessions")
	fmt.Fprintln(os.Stderr, "  download model     Download the offline model")
	fmt.Fprintln(os.Stderr, "  download vision    Download the vision model")
	fmt.Fprintln(os.Stderr, "  restore            Pull remote sessions into the local store")
	fmt.Fprintln(os.Stderr, "  prune              Run one retention pass now")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// env opens everything a command needs. The app lock is taken for the whole
// run: ctl and daemon never share the data directory.
type env struct {
	cfg  *config.Config
	db   *store.DB
	lk   *lock.Lock
	id   identity.Provider
	orch *chat.Orchestrator
	eng  *engine.Engine
}

func openEnv(withBackends bool) *env {
	if err := paths.EnsureDirs(); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(paths.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			fatal(err)
		}
		cfg = config.Default()
	}
	lk, err := lock.Acquire(paths.BaseDir())
	if err != nil {
		fatal(err)
	}
	db, err := store.Open(paths.DBPath())
	if err != nil {
		fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		fatal(err)
	}

	e := &env{
		cfg: cfg,
		db:  db,
		lk:  lk,
		id:  identity.Static{ID: cfg.User.ID, IsVerified: cfg.User.Verified},
	}
	if withBackends {
		e.buildOrchestrator()
	}
	return e
}

func (e *env) buildOrchestrator() {
	logger := zap.NewNop()
	monitor := netmon.New(netmon.DialProber{Addr: e.cfg.Network.ProbeAddr}, e.cfg.ProbeInterval(), nil, nil)

	var remote backend.Backend
	if e.cfg.Gemini.APIKey != "" {
		adapter, err := gemini.New(context.Background(), e.cfg.Gemini.APIKey, e.cfg.Gemini.Model, logger)
		if err != nil {
			fatal(err)
		}
		remote = adapter
	}

	e.eng = engine.New(e.cfg.Engine.BaseURL, e.cfg.Engine.Model, logger)
	dl := download.New(paths.DownloadsDir(), nil, nil)
	if name := e.cfg.Engine.ModelName; name != "" && dl.IsDownloaded(name) {
		_ = e.eng.Initialize(dl.FilePath(name), 1)
	}
	var captioner engine.Captioner
	if e.cfg.Engine.VisionModel != "" {
		captioner = engine.NewVisionCaptioner(e.cfg.Engine.BaseURL, e.cfg.Engine.VisionModel)
	}

	e.orch = chat.New(chat.Options{
		DB:           e.db,
		Connectivity: monitor,
		Remote:       remote,
		Local:        local.New(e.eng, captioner, logger),
		Engine:       e.eng,
		Identity:     e.id,
		ImagesDir:    paths.ImagesDir(),
	})
}

func (e *env) close() {
	if e.orch != nil {
		_ = e.orch.Close()
	}
	_ = e.db.Close()
	_ = e.lk.Release()
}

func cmdSessionsList(jsonOut bool) {
	e := openEnv(false)
	defer e.close()

	userID, err := e.id.UserID()
	if err != nil {
		fatal(err)
	}
	sessions, err := e.db.ListSessions(userID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(sessions)
		return
	}
	for _, s := range sessions {
		mode := "synced"
		if s.OfflineOnly {
			mode = "offline-only"
		}
		fmt.Printf("%s  %-12s  %s  %s\n",
			s.ID, mode,
			time.UnixMilli(s.LastUpdated).Format("2006-01-02 15:04"),
			s.Title)
	}
}

func cmdSessionsNew() {
	e := openEnv(true)
	defer e.close()

	s, err := e.orch.CreateSession()
	if err != nil {
		fatal(err)
	}
	fmt.Println(s.ID)
}

func cmdSend(sessionID, prompt string) {
	e := openEnv(true)
	defer e.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reply, err := e.orch.Send(ctx, sessionID, prompt, nil)
	if reply == nil && err != nil {
		fatal(err)
	}
	fmt.Println(reply.Content)
	if err != nil {
		os.Exit(1)
	}
}

func cmdHistory(sessionID string, jsonOut bool) {
	e := openEnv(false)
	defer e.close()

	userID, err := e.id.UserID()
	if err != nil {
		fatal(err)
	}
	sess, err := e.db.GetSession(sessionID)
	if err != nil {
		fatal(err)
	}
	if sess == nil || sess.UserID != userID {
		fatal(chat.ErrSessionNotFound)
	}
	msgs, err := e.db.ListMessages(sessionID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n",
			time.UnixMilli(m.CreatedAt).Format("15:04:05"), m.Role, m.Content)
	}
}

func cmdDelete(target string) {
	e := openEnv(true)
	defer e.close()

	if target == "all" {
		if err := e.orch.DeleteAllChats(); err != nil {
			fatal(err)
		}
		fmt.Println("all sessions deleted")
		return
	}
	if err := e.orch.DeleteSession(target); err != nil {
		fatal(err)
	}
	fmt.Println("session deleted")
}

func cmdDownload(which string) {
	e := openEnv(false)
	defer e.close()

	var url, name string
	switch which {
	case "model":
		url, name = e.cfg.Engine.ModelURL, e.cfg.Engine.ModelName
	case "vision":
		url, name = e.cfg.Engine.VisionModelURL, e.cfg.Engine.VisionModel+".tflite"
	default:
		fmt.Fprintln(os.Stderr, "usage: hybridmindctl download <model|vision>")
		os.Exit(1)
	}
	if url == "" || name == "" {
		fatal(fmt.Errorf("no download URL configured for %s", which))
	}

	dl := download.New(paths.DownloadsDir(), nil, nil)
	for p := range dl.Fetch(context.Background(), url, name) {
		switch p.Status {
		case download.StatusDownloading:
			fmt.Printf("\rdownloading %s: %3d%% (%d/%d bytes)", name, p.Percent, p.Downloaded, p.Total)
		case download.StatusCompleted:
			fmt.Printf("\rdownloaded %s (%d bytes)%20s\n", name, p.Total, "")
		case download.StatusFailed:
			fmt.Println()
			fatal(p.Err)
		}
	}
}

func cmdRestore() {
	e := openEnv(false)
	defer e.close()

	if e.cfg.Sync.ProjectID == "" {
		fatal(fmt.Errorf("remote sync is not configured"))
	}
	userID, err := e.id.UserID()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	remote, err := cloudsync.NewFirestore(ctx, e.cfg.Sync.ProjectID)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = remote.Close() }()

	res, err := cloudsync.Restore(ctx, e.db, remote, userID)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("restored %d sessions, %d messages\n", res.Sessions, res.Messages)
}

func cmdPrune() {
	e := openEnv(false)
	defer e.close()

	p := prune.New(e.db, nil, nil, e.cfg.PruneInterval(), e.cfg.RetentionWindow())
	p.RunOnce()
	fmt.Println("retention pass completed")
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}
