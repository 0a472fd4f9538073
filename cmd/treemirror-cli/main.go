// Package main provides a CLI tool for querying a treemirror server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/pkg/client"
	"github.com/fruitsalade/treemirror/pkg/protocol"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

func main() {
	serverURL := flag.String("server", envOr("TREEMIRROR_SERVER", "http://localhost:8080"), "Server URL")
	token := flag.String("token", os.Getenv("TREEMIRROR_TOKEN"), "Bearer token")
	limit := flag.Int("limit", 20, "Maximum results (for find)")
	depth := flag.Int("depth", 0, "Maximum depth to print, 0 for all (for tree)")
	asJSON := flag.Bool("json", false, "Print raw JSON responses")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}
	defer logger.Sync()

	c := client.New(client.Config{
		BaseURL:   *serverURL,
		AuthToken: *token,
		Timeout:   30 * time.Second,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := args[0]
	cmdArgs := args[1:]

	var err error
	switch cmd {
	case "tree", "ls":
		err = cmdTree(ctx, c, cmdArgs, *depth, *asJSON)
	case "find":
		err = cmdFind(ctx, c, cmdArgs, *limit, *asJSON)
	case "stats":
		err = cmdStats(ctx, c, *asJSON)
	case "ping":
		err = cmdPing(ctx, c)
	case "watch":
		sse := client.NewSSEClient(*serverURL, logger)
		sse.SetAuthToken(*token)
		err = cmdWatch(ctx, sse, *asJSON)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`treemirror CLI

Usage: treemirror-cli [flags] <command> [args]

Flags:
  -server <url>      Server URL (default: $TREEMIRROR_SERVER or http://localhost:8080)
  -token <token>     Bearer token (default: $TREEMIRROR_TOKEN)
  -limit <n>         Maximum results for find (default: 20)
  -depth <n>         Maximum depth for tree, 0 for all (default: 0)
  -json              Print raw JSON responses
  -v                 Verbose logging

Commands:
  tree, ls [path]    Print the mirrored tree or a subtree
  find <query>       Fuzzy-find files by path
  stats              Show mirror statistics
  ping               Check that the server is reachable
  watch              Stream updates as they are applied
  help               Show this help message

Examples:
  treemirror-cli tree
  treemirror-cli -depth 2 tree src
  treemirror-cli -limit 5 find maingo
  treemirror-cli -server http://mirror:8080 watch`)
}

func cmdTree(ctx context.Context, c *client.Client, args []string, depth int, asJSON bool) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	resp, err := c.FetchTree(ctx, path)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(resp)
	}

	files, dirs := tree.Count(resp.Root)
	printTree(os.Stdout, resp.Root, depth)
	fmt.Printf("\n%s directories, %s files (version %d)\n",
		humanize.Comma(int64(dirs)), humanize.Comma(int64(files)), resp.Version)
	return nil
}

// printTree writes root as an indented listing, directories marked with a
// trailing slash.
func printTree(w io.Writer, root *tree.Entry, depth int) {
	tree.Walk(root, func(p tree.Path, e *tree.Entry) error {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", len(p)), name)
		if e.IsDir && depth > 0 && len(p) >= depth {
			return tree.SkipDir
		}
		return nil
	})
}

func cmdFind(ctx context.Context, c *client.Client, args []string, limit int, asJSON bool) error {
	if len(args) == 0 {
		return errors.New("usage: treemirror-cli find <query>")
	}
	resp, err := c.Find(ctx, strings.Join(args, " "), limit)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(resp)
	}
	if len(resp.Results) == 0 {
		fmt.Println("No matches")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tPATH")
	fmt.Fprintln(w, "-----\t----")
	for _, m := range resp.Results {
		fmt.Fprintf(w, "%d\t%s\n", m.Score, m.Path)
	}
	return w.Flush()
}

func cmdStats(ctx context.Context, c *client.Client, asJSON bool) error {
	st, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(st)
	}

	fmt.Println("Mirror Statistics")
	fmt.Println("-----------------")
	fmt.Printf("Root:         %s\n", st.RootPath)
	fmt.Printf("State:        %s\n", st.State)
	fmt.Printf("Version:      %d\n", st.Version)
	fmt.Printf("Files:        %s\n", humanize.Comma(int64(st.Files)))
	fmt.Printf("Directories:  %s\n", humanize.Comma(int64(st.Dirs)))
	fmt.Printf("Applied:      %s\n", humanize.Comma(int64(st.Applied)))
	fmt.Printf("Failed:       %s\n", humanize.Comma(int64(st.Failed)))
	return nil
}

func cmdPing(ctx context.Context, c *client.Client) error {
	rtt, err := c.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%s is offline: %w", c.BaseURL(), err)
	}
	fmt.Printf("%s is online (%s)\n", c.BaseURL(), rtt.Round(time.Microsecond))
	return nil
}

func cmdWatch(ctx context.Context, sse *client.SSEClient, asJSON bool) error {
	events, errs := sse.Subscribe(ctx)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if asJSON {
				if err := printJSON(ev); err != nil {
					return err
				}
				continue
			}
			printEvent(os.Stdout, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func printEvent(w io.Writer, ev protocol.UpdateEvent) {
	at := time.Unix(ev.Timestamp, 0)
	path := ev.Path
	if path == "" {
		path = "."
	}
	switch ev.Type {
	case protocol.EventUpsert:
		files, dirs := tree.Count(ev.Entry)
		fmt.Fprintf(w, "%s  v%d  + %s (%d dirs, %d files)\n",
			humanize.Time(at), ev.Version, path, dirs, files)
	default:
		fmt.Fprintf(w, "%s  v%d  - %s\n", humanize.Time(at), ev.Version, path)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
