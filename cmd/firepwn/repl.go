package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/firepwn/firepwn/pkg/config"
	"github.com/firepwn/firepwn/pkg/console"
)

// repl reads console commands and runs each one to completion before
// prompting again.
type repl struct {
	c      *console.Console
	line   *liner.State
	render *renderer
	cfg    *config.Config
	quit   bool
}

func newREPL(line *liner.State, render *renderer, cfg *config.Config) *repl {
	return &repl{line: line, render: render, cfg: cfg}
}

// completions maps a command to its subcommands.
var completions = map[string][]string{
	"init":      nil,
	"signin":    nil,
	"signup":    nil,
	"signout":   nil,
	"federated": nil,
	"mfa":       {"verify", "cancel"},
	"store":     {"get", "set", "update", "delete"},
	"invoke":    nil,
	"preview":   nil,
	"http":      {"get", "post"},
	"blob":      {"list", "upload", "download", "delete", "meta"},
	"state":     nil,
	"clear":     nil,
	"help":      nil,
	"exit":      nil,
}

// Run reads lines until EOF or exit.
func (r *repl) Run(ctx context.Context) error {
	r.line.SetCompleter(complete)
	r.loadHistory()
	defer r.saveHistory()

	r.render.Println(`firepwn console. Type "help" for commands.`)
	for !r.quit {
		input, err := r.line.Prompt(r.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		r.line.AppendHistory(input)
		r.Exec(ctx, input)
	}
	return nil
}

// Exec runs one console line and waits for the operations it started.
func (r *repl) Exec(ctx context.Context, input string) {
	args, err := splitArgs(input)
	if err != nil {
		r.render.Errorf("%v", err)
		return
	}
	if len(args) == 0 {
		return
	}

	root := r.commands(ctx)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		r.render.Errorf("%v", err)
	}
	r.c.Wait()
}

func (r *repl) prompt() string {
	state := r.c.State()
	switch {
	case state.ChallengePending:
		return "firepwn[mfa]> "
	case state.Principal != nil && state.Principal.Email != "":
		return fmt.Sprintf("firepwn(%s)> ", state.Principal.Email)
	case state.Principal != nil:
		return "firepwn(signed in)> "
	}
	return "firepwn> "
}

// promptChallengeToken asks for a challenge token before an SMS is sent.
// It runs on an operation goroutine while Exec is waiting.
func (r *repl) promptChallengeToken(ctx context.Context, anchorID string) (string, error) {
	if r.line == nil {
		return "", errors.New("no terminal to prompt for a challenge token")
	}
	token, err := r.line.Prompt(fmt.Sprintf("Challenge token for %s: ", anchorID))
	if err != nil {
		return "", fmt.Errorf("challenge token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func (r *repl) loadHistory() {
	if r.cfg.Console.HistoryFile == "" {
		return
	}
	f, err := os.Open(r.cfg.Console.HistoryFile)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := r.line.ReadHistory(f); err != nil {
		log.Printf("Failed to read history: %v", err)
	}
}

func (r *repl) saveHistory() {
	if r.cfg.Console.HistoryFile == "" {
		return
	}
	f, err := os.OpenFile(r.cfg.Console.HistoryFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		log.Printf("Failed to write history: %v", err)
		return
	}
	defer f.Close()
	if _, err := r.line.WriteHistory(f); err != nil {
		log.Printf("Failed to write history: %v", err)
	}
}

func complete(line string) []string {
	fields := strings.Fields(line)
	trailing := strings.HasSuffix(line, " ")

	var out []string
	switch {
	case len(fields) == 0 || (len(fields) == 1 && !trailing):
		prefix := ""
		if len(fields) == 1 {
			prefix = fields[0]
		}
		for name := range completions {
			if strings.HasPrefix(name, prefix) {
				out = append(out, name)
			}
		}
	case (len(fields) == 1 && trailing) || (len(fields) == 2 && !trailing):
		prefix := ""
		if len(fields) == 2 {
			prefix = fields[1]
		}
		for _, sub := range completions[fields[0]] {
			if strings.HasPrefix(sub, prefix) {
				out = append(out, fields[0]+" "+sub)
			}
		}
	}
	sort.Strings(out)
	return out
}

// commands builds a fresh command tree, so flag values never leak between
// lines. Console rejections are reported through the log, so only errors
// local to the console line are returned.
func (r *repl) commands(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "firepwn",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(r.render.w)
	root.SetErr(r.render.w)
	root.SetContext(ctx)

	root.AddCommand(r.authCommands()...)
	root.AddCommand(
		r.initCommand(),
		r.storeCommand(),
		r.invokeCommand(),
		r.previewCommand(),
		r.httpCommand(),
		r.blobCommand(),
		&cobra.Command{
			Use:   "state",
			Short: "Show the session state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := json.MarshalIndent(r.c.State(), "", "  ")
				if err != nil {
					return err
				}
				r.render.Println(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the log",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.c.Log().Clear()
			},
		},
		&cobra.Command{
			Use:     "exit",
			Aliases: []string{"quit"},
			Short:   "Leave the console",
			Args:    cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.quit = true
			},
		},
	)
	return root
}

func (r *repl) initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [firebaseConfig literal | file]",
		Short: "Initialize the session",
		Long: `Initialize the session from the configured descriptor, from an inline
firebaseConfig object literal, or from a file containing one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := r.cfg.Firebase
			if len(args) > 0 {
				text := strings.Join(args, " ")
				if !strings.Contains(text, "{") {
					data, err := os.ReadFile(text)
					if err != nil {
						return fmt.Errorf("failed to read firebase config: %w", err)
					}
					text = string(data)
				}
				parsed, err := config.ParseDescriptor(text)
				if err != nil {
					return err
				}
				d = parsed
			}
			_ = r.c.Initialize(cmd.Context(), d)
			return nil
		},
	}
}

func (r *repl) authCommands() []*cobra.Command {
	mfa := &cobra.Command{
		Use:   "mfa",
		Short: "Complete or cancel a pending second-factor challenge",
	}
	mfa.AddCommand(
		&cobra.Command{
			Use:   "verify [code]",
			Short: "Send the SMS code, or verify it",
			Args:  cobra.MaximumNArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				code := ""
				if len(args) == 1 {
					code = args[0]
				}
				_ = r.c.VerifyChallenge(cmd.Context(), code)
			},
		},
		&cobra.Command{
			Use:   "cancel",
			Short: "Discard the pending challenge",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.c.CancelChallenge()
			},
		},
	)

	return []*cobra.Command{
		{
			Use:   "signin <email> <password>",
			Short: "Sign in with email and password",
			Args:  cobra.ExactArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				_ = r.c.SignIn(cmd.Context(), args[0], args[1])
			},
		},
		{
			Use:   "signup <email> <password>",
			Short: "Create an account",
			Args:  cobra.ExactArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				_ = r.c.SignUp(cmd.Context(), args[0], args[1])
			},
		},
		{
			Use:   "signout",
			Short: "Sign out",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				_ = r.c.SignOut(cmd.Context())
			},
		},
		{
			Use:   "federated <id-token>",
			Short: "Sign in with an identity provider ID token",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				_ = r.c.FederatedSignIn(cmd.Context(), args[0])
			},
		},
		mfa,
	}
}

func (r *repl) storeCommand() *cobra.Command {
	store := &cobra.Command{
		Use:   "store",
		Short: "Read and write Firestore documents",
	}

	var (
		limit  int
		sortBy string
		where  string
		merge  bool
	)
	get := &cobra.Command{
		Use:   "get <collection> [id]",
		Short: "Get a document, or query a collection",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			req := console.StoreRequest{Collection: args[0], Action: console.StoreGet, Limit: limit}
			if len(args) == 2 {
				req.DocumentID = args[1]
			}
			if sortBy != "" {
				field, dir, _ := strings.Cut(sortBy, ":")
				req.SortField = field
				req.SortDirection = backend.Direction(dir)
			}
			if where != "" {
				parts := strings.Fields(where)
				req.FilterField = parts[0]
				if len(parts) > 1 {
					req.FilterOperator = parts[1]
				}
				if len(parts) > 2 {
					req.FilterValue = strings.Join(parts[2:], " ")
				}
			}
			_ = r.c.Store(cmd.Context(), req)
		},
	}
	get.Flags().IntVar(&limit, "limit", 0, "maximum number of documents (0 for no limit)")
	get.Flags().StringVar(&sortBy, "sort", "", "sort field, optionally field:asc or field:desc")
	get.Flags().StringVar(&where, "where", "", `filter as "field op value"`)

	set := &cobra.Command{
		Use:   "set <collection> [id] <object>",
		Short: "Create or overwrite a document; without an id one is generated",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			req := console.StoreRequest{Collection: args[0], Action: console.StoreSet, Merge: merge}
			rest := args[1:]
			if !strings.HasPrefix(rest[0], "{") {
				req.DocumentID = rest[0]
				rest = rest[1:]
			}
			req.Body = strings.Join(rest, " ")
			_ = r.c.Store(cmd.Context(), req)
		},
	}
	set.Flags().BoolVar(&merge, "merge", false, "merge into the existing document")

	store.AddCommand(
		get,
		set,
		&cobra.Command{
			Use:   "update <collection> <id> <object>",
			Short: "Update fields of a document",
			Args:  cobra.MinimumNArgs(3),
			Run: func(cmd *cobra.Command, args []string) {
				_ = r.c.Store(cmd.Context(), console.StoreRequest{
					Collection: args[0],
					Action:     console.StoreUpdate,
					DocumentID: args[1],
					Body:       strings.Join(args[2:], " "),
				})
			},
		},
		&cobra.Command{
			Use:   "delete <collection> <id>",
			Short: "Delete a document",
			Args:  cobra.ExactArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				_ = r.c.Store(cmd.Context(), console.StoreRequest{
					Collection: args[0],
					Action:     console.StoreDelete,
					DocumentID: args[1],
				})
			},
		},
	)
	return store
}

func (r *repl) invokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "invoke <name(args...)>",
		Short:              "Call a callable function",
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = r.c.Invoke(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func (r *repl) previewCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "preview <name(args...)>",
		Short:              "Show the request a call would send",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := r.c.PreviewCall(strings.Join(args, " "))
			if err != nil {
				return err
			}
			r.render.Println(out)
			return nil
		},
	}
}

func (r *repl) httpCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "http <get|post> <name> [object | query]",
		Short:              "Send a plain HTTP request to a function",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.New("usage: http <get|post> <name> [object | query]")
			}
			_ = r.c.InvokeHTTP(cmd.Context(), console.HTTPCallRequest{
				Method: args[0],
				Name:   args[1],
				Args:   strings.Join(args[2:], " "),
			})
			return nil
		},
	}
}

func (r *repl) blobCommand() *cobra.Command {
	blob := &cobra.Command{
		Use:   "blob",
		Short: "Manage Cloud Storage objects",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req := console.BlobRequest{Action: console.BlobList, Limit: limit}
			if len(args) == 1 {
				req.Path = args[0]
			}
			_ = r.c.Blob(cmd.Context(), req)
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum files and folders shown, each (0 for all)")

	pathOp := func(use, short string, action console.BlobAction) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <path>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				_ = r.c.Blob(cmd.Context(), console.BlobRequest{Action: action, Path: args[0]})
			},
		}
	}

	blob.AddCommand(
		list,
		&cobra.Command{
			Use:   "upload <local-file> <path>",
			Short: "Upload a local file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return fmt.Errorf("failed to stat %s: %w", args[0], err)
				}

				_ = r.c.Blob(cmd.Context(), console.BlobRequest{
					Action: console.BlobUpload,
					Path:   args[1],
					File: &console.UploadFile{
						Name:   filepath.Base(args[0]),
						Size:   info.Size(),
						Reader: f,
					},
				})
				// the upload reads f in the background
				r.c.Wait()
				return nil
			},
		},
		pathOp("download", "Get a download URL", console.BlobDownload),
		pathOp("delete", "Delete an object", console.BlobDelete),
		pathOp("meta", "Show object metadata", console.BlobMetadata),
	)
	return blob
}
