package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultURL = "http://127.0.0.1:9050"

// getCmd prints /admin/v1/<name>.
func getCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", defaultURL, "server base url")
	_ = fs.Parse(args)

	adminRequest(http.MethodGet, *baseURL, name, nil, 5*time.Second)
}

func kickCmd(args []string) {
	fs := flag.NewFlagSet("kick", flag.ExitOnError)
	baseURL := fs.String("url", defaultURL, "server base url")
	id := fs.Uint("id", 0, "peer id (required)")
	reason := fs.String("reason", "", "reason shown to the player")
	_ = fs.Parse(args)

	if *id == 0 {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	q := url.Values{"id": {fmt.Sprint(*id)}}
	if r := strings.TrimSpace(*reason); r != "" {
		q.Set("reason", r)
	}
	adminRequest(http.MethodPost, *baseURL, "kick", q, 10*time.Second)
}

func saveCmd(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	baseURL := fs.String("url", defaultURL, "server base url")
	_ = fs.Parse(args)

	adminRequest(http.MethodPost, *baseURL, "save", nil, 10*time.Second)
}

func sceneCmd(args []string) {
	fs := flag.NewFlagSet("scene", flag.ExitOnError)
	baseURL := fs.String("url", defaultURL, "server base url")
	id := fs.String("id", "", "scene id (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	adminRequest(http.MethodPost, *baseURL, "scene", url.Values{"id": {*id}}, 10*time.Second)
}

func adminRequest(method, baseURL, name string, q url.Values, timeout time.Duration) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/" + name
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
