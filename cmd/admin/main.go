package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"duckovtogether/internal/persistence/archive"
	persistlog "duckovtogether/internal/persistence/log"
	"duckovtogether/internal/persistence/saves"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "status", "players", "world":
			getCmd(os.Args[1], os.Args[2:])
			return
		case "kick":
			kickCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		case "scene":
			sceneCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "logs":
			logsCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "restore":
			restoreCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the saved worlds and player records under the data dir.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	sv := saves.New(filepath.Join(*dataDir, "saves"), nil)
	worlds, err := os.ReadDir(filepath.Join(sv.Root(), "world"))
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range worlds {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			fmt.Println("world", strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	players, err := sv.ListPlayers()
	if err != nil {
		fmt.Fprintln(os.Stderr, "list players:", err)
		os.Exit(1)
	}
	for _, p := range players {
		fmt.Println("player", p)
	}
}

// logsCmd dumps one hourly audit file (or every file of a day) as JSON lines.
func logsCmd(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	day := fs.String("day", time.Now().UTC().Format("2006-01-02"), "UTC day (YYYY-MM-DD)")
	_ = fs.Parse(args)

	stream := "sessions"
	if fs.NArg() > 0 {
		stream = strings.TrimSpace(fs.Arg(0))
	}
	if stream != "sessions" && stream != "violations" {
		fmt.Fprintln(os.Stderr, "unknown stream (sessions|violations):", stream)
		os.Exit(2)
	}

	files, err := filepath.Glob(filepath.Join(*dataDir, "logs", stream, stream+"-"+*day+"-*.jsonl.zst"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "glob:", err)
		os.Exit(1)
	}
	sort.Strings(files)
	for _, f := range files {
		var err error
		switch stream {
		case "sessions":
			var rows []persistlog.SessionEntry
			if rows, err = persistlog.ReadJSONL[persistlog.SessionEntry](f); err == nil {
				for _, r := range rows {
					printJSON(r)
				}
			}
		case "violations":
			var rows []persistlog.ViolationEntry
			if rows, err = persistlog.ReadJSONL[persistlog.ViolationEntry](f); err == nil {
				for _, r := range rows {
					printJSON(r)
				}
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", f, err)
		}
	}
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "default", "world id")
	_ = fs.Parse(args)

	dirs, err := archive.New(filepath.Join(*dataDir, "archives"), 0).List(*worldID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, d := range dirs {
		var meta archive.Meta
		b, err := os.ReadFile(filepath.Join(d, "meta.json"))
		if err == nil {
			err = json.Unmarshal(b, &meta)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", d, err)
			continue
		}
		printJSON(struct {
			Dir string `json:"dir"`
			archive.Meta
		}{Dir: d, Meta: meta})
	}
}

// restoreCmd overwrites the live world save with an archived copy. Run it with the server stopped.
func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	from := fs.String("archive", "", "archive directory (from `admin archives`)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*from) == "" {
		fmt.Fprintln(os.Stderr, "missing -archive")
		os.Exit(2)
	}
	ws, err := archive.Load(*from)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load archive:", err)
		os.Exit(1)
	}
	sv := saves.New(filepath.Join(*dataDir, "saves"), nil)
	if err := sv.SaveWorld(&ws); err != nil {
		fmt.Fprintln(os.Stderr, "save world:", err)
		os.Exit(1)
	}
	fmt.Printf("restored world %s (scene=%q day=%d) to %s\n", ws.WorldID, ws.CurrentScene, ws.GameDay, sv.WorldPath(ws.WorldID))
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
