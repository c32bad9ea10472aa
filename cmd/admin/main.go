// Command admin operates a running server over its loopback-only admin
// endpoints. Every mutation it performs is recorded server-side.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "state":
		stateCmd(os.Args[2:])
	case "leaderboard":
		leaderboardCmd(os.Args[2:])
	case "adjust":
		adjustCmd(os.Args[2:])
	case "freeze":
		postCmd(os.Args[2:], "freeze", "/api/admin/freeze", map[string]any{})
	case "unfreeze":
		postCmd(os.Args[2:], "unfreeze", "/api/admin/unfreeze", map[string]any{})
	case "inject":
		injectCmd(os.Args[2:])
	case "flag-post":
		flagPostCmd(os.Args[2:])
	case "eject":
		ejectCmd(os.Args[2:])
	case "cancel-hit":
		cancelHitCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  state        show game state
  leaderboard  show the surviving actors ranked by balance
  adjust       mint or burn AFC for one actor
  freeze       freeze trading
  unfreeze     unfreeze trading
  inject       schedule an ad hoc system event
  flag-post    mark a post as fake news
  eject        majority-eject an alliance member
  cancel-hit   cancel a hit contract on the poster's behalf`)
}

func serverFlag(fs *flag.FlagSet) *string {
	return fs.String("server", "http://127.0.0.1:8080", "server base url")
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	server := serverFlag(fs)
	_ = fs.Parse(args)
	get(*server + "/api/state")
}

func leaderboardCmd(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	server := serverFlag(fs)
	limit := fs.Int("limit", 10, "entries to show")
	_ = fs.Parse(args)
	get(fmt.Sprintf("%s/api/leaderboard?limit=%d", *server, *limit))
}

func adjustCmd(args []string) {
	fs := flag.NewFlagSet("adjust", flag.ExitOnError)
	server := serverFlag(fs)
	actor := fs.Int64("actor", 0, "actor id")
	delta := fs.Float64("delta", 0, "amount to credit (negative burns)")
	reason := fs.String("reason", "manual adjustment", "audit reason")
	_ = fs.Parse(args)
	if *actor <= 0 || *delta == 0 {
		fmt.Fprintln(os.Stderr, "missing -actor or -delta")
		os.Exit(2)
	}
	post(*server+"/api/admin/adjust_balance", map[string]any{
		"actor": *actor, "delta": *delta, "reason": *reason,
	})
}

func injectCmd(args []string) {
	fs := flag.NewFlagSet("inject", flag.ExitOnError)
	server := serverFlag(fs)
	eventType := fs.String("type", "", "event type")
	description := fs.String("description", "", "public description")
	hour := fs.Int("hour", 0, "trigger at game hour")
	impact := fs.Float64("impact", 0, "price impact fraction, e.g. -0.25")
	duration := fs.Int("duration", 0, "duration in minutes (freeze events)")
	_ = fs.Parse(args)
	if *eventType == "" {
		fmt.Fprintln(os.Stderr, "missing -type")
		os.Exit(2)
	}
	post(*server+"/api/admin/inject_event", map[string]any{
		"event_type": *eventType, "description": *description,
		"trigger_hour": *hour, "price_impact": *impact, "duration_minutes": *duration,
	})
}

func flagPostCmd(args []string) {
	fs := flag.NewFlagSet("flag-post", flag.ExitOnError)
	server := serverFlag(fs)
	postID := fs.Int64("post", 0, "post id")
	_ = fs.Parse(args)
	if *postID <= 0 {
		fmt.Fprintln(os.Stderr, "missing -post")
		os.Exit(2)
	}
	post(*server+"/api/admin/flag_post", map[string]any{"post": *postID})
}

func ejectCmd(args []string) {
	fs := flag.NewFlagSet("eject", flag.ExitOnError)
	server := serverFlag(fs)
	allianceID := fs.Int64("alliance", 0, "alliance id")
	target := fs.Int64("target", 0, "member to eject")
	var voters int64List
	fs.Var(&voters, "voter", "voting member id (repeatable)")
	_ = fs.Parse(args)
	if *allianceID <= 0 || *target <= 0 || len(voters) == 0 {
		fmt.Fprintln(os.Stderr, "missing -alliance, -target, or -voter")
		os.Exit(2)
	}
	post(*server+"/api/admin/eject_member", map[string]any{
		"alliance": *allianceID, "target": *target, "voters": []int64(voters),
	})
}

func cancelHitCmd(args []string) {
	fs := flag.NewFlagSet("cancel-hit", flag.ExitOnError)
	server := serverFlag(fs)
	contract := fs.Int64("contract", 0, "hit contract id")
	poster := fs.Int64("poster", 0, "contract poster id")
	_ = fs.Parse(args)
	if *contract <= 0 || *poster <= 0 {
		fmt.Fprintln(os.Stderr, "missing -contract or -poster")
		os.Exit(2)
	}
	post(*server+"/api/admin/cancel_hit", map[string]any{
		"contract": *contract, "poster": *poster,
	})
}

func postCmd(args []string, name, path string, body map[string]any) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	server := serverFlag(fs)
	_ = fs.Parse(args)
	post(*server+path, body)
}

func get(url string) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func post(url string, body map[string]any) {
	b, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read response:", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

// int64List collects repeated integer flags.
type int64List []int64

func (l *int64List) String() string { return fmt.Sprint([]int64(*l)) }

func (l *int64List) Set(v string) error {
	var n int64
	if _, err := fmt.Sscan(v, &n); err != nil {
		return err
	}
	*l = append(*l, n)
	return nil
}
