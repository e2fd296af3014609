// Package console implements the interactive line-oriented blog client.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/quill/internal/admin"
	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/guard"
	"github.com/MarcoPoloResearchLab/quill/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/MarcoPoloResearchLab/quill/internal/session"
	"go.uber.org/zap"
)

const prompt = "quill> "

var (
	errMissingSession   = errors.New("session manager is required")
	errMissingPosts     = errors.New("post gateway is required")
	errMissingDirectory = errors.New("admin directory is required")
	errMissingInput     = errors.New("input reader is required")
	errMissingOutput    = errors.New("output writer is required")
)

// Session is the session surface the console drives.
type Session interface {
	SignUp(ctx context.Context, email string, password string) (auth.Identity, error)
	LogIn(ctx context.Context, email string, password string) (auth.Identity, error)
	LogOut(ctx context.Context) error
	RefreshProfile(ctx context.Context) error
	Snapshot() session.Snapshot
}

// PostGateway is the post surface the console drives.
type PostGateway interface {
	Create(ctx context.Context, draft posts.Draft, authorID string) (string, error)
	List(ctx context.Context) ([]posts.Post, error)
	Subscribe(ctx context.Context, onChange func([]posts.Post)) (posts.Unsubscribe, error)
	Get(ctx context.Context, id string) (posts.Post, error)
	Update(ctx context.Context, id string, patch posts.Patch, callerID string) error
	Delete(ctx context.Context, id string, callerID string) error
}

// Directory is the admin surface the console drives.
type Directory interface {
	ListUsers(ctx context.Context) ([]profiles.Profile, error)
	SetRole(ctx context.Context, targetID string, role profiles.Role, callerID string) error
	Stats(ctx context.Context, viewerID string) (admin.Stats, error)
}

// Config describes the dependencies of a Console.
type Config struct {
	Session   Session
	Posts     PostGateway
	Directory Directory
	Input     io.Reader
	Output    io.Writer
	Logger    *zap.Logger
}

// Console reads commands from Input and writes results to Output.
type Console struct {
	session   Session
	posts     PostGateway
	directory Directory
	input     io.Reader
	logger    *zap.Logger

	outputMu sync.Mutex
	output   io.Writer

	watchMu sync.Mutex
	unwatch posts.Unsubscribe
}

type commandHandler func(ctx context.Context, args []string) error

type commandSpec struct {
	usage       string
	description string
	requirement *guard.Requirement
	handler     commandHandler
}

// New constructs a Console.
func New(cfg Config) (*Console, error) {
	switch {
	case cfg.Session == nil:
		return nil, errMissingSession
	case cfg.Posts == nil:
		return nil, errMissingPosts
	case cfg.Directory == nil:
		return nil, errMissingDirectory
	case cfg.Input == nil:
		return nil, errMissingInput
	case cfg.Output == nil:
		return nil, errMissingOutput
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		session:   cfg.Session,
		posts:     cfg.Posts,
		directory: cfg.Directory,
		input:     cfg.Input,
		output:    cfg.Output,
		logger:    logger,
	}, nil
}

// Run processes commands until quit, end of input or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	defer c.stopWatching()
	c.printf("Type \"help\" for a list of commands.\n")
	scanner := bufio.NewScanner(c.input)
	for {
		c.printf("%s", prompt)
		if !scanner.Scan() {
			c.printf("\n")
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		if quit := c.Execute(ctx, scanner.Text()); quit {
			return nil
		}
	}
}

// Execute runs one command line and reports whether the console should stop.
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name := strings.ToLower(fields[0])
	if name == "quit" || name == "exit" {
		c.printf("bye\n")
		return true
	}
	spec, ok := c.commands()[name]
	if !ok {
		c.printf("unknown command %q, type \"help\"\n", name)
		return false
	}
	if spec.requirement != nil && !c.admit(*spec.requirement) {
		return false
	}
	if err := spec.handler(ctx, fields[1:]); err != nil {
		c.report(name, err)
	}
	return false
}

func (c *Console) commands() map[string]commandSpec {
	authenticated := guard.RequireAuthenticated
	administrator := guard.RequireAdmin
	return map[string]commandSpec{
		"help":      {usage: "help", description: "list commands", handler: c.help},
		"signup":    {usage: "signup <email> <password>", description: "create an account and sign in", handler: c.signUp},
		"login":     {usage: "login <email> <password>", description: "sign in", handler: c.logIn},
		"logout":    {usage: "logout", description: "sign out", handler: c.logOut},
		"whoami":    {usage: "whoami", description: "show the current session", handler: c.whoAmI},
		"refresh":   {usage: "refresh", description: "reload the current profile", requirement: &authenticated, handler: c.refresh},
		"posts":     {usage: "posts [mine|published|drafts]", description: "list posts, newest first", requirement: &authenticated, handler: c.listPosts},
		"show":      {usage: "show <id>", description: "show one post", requirement: &authenticated, handler: c.showPost},
		"new":       {usage: "new <title> | <content> [| <category>]", description: "create a draft", requirement: &authenticated, handler: c.newPost},
		"publish":   {usage: "publish <id>", description: "publish a post", requirement: &authenticated, handler: c.publishPost(true)},
		"unpublish": {usage: "unpublish <id>", description: "move a post back to drafts", requirement: &authenticated, handler: c.publishPost(false)},
		"edit":      {usage: "edit <id> <title|subtitle|content|category|image> <value>", description: "change one field of a post", requirement: &authenticated, handler: c.editPost},
		"delete":    {usage: "delete <id>", description: "delete a post", requirement: &authenticated, handler: c.deletePost},
		"watch":     {usage: "watch", description: "print the post list on every change", requirement: &authenticated, handler: c.watch},
		"unwatch":   {usage: "unwatch", description: "stop watching posts", handler: c.stopWatch},
		"stats":     {usage: "stats", description: "show dashboard statistics (admin)", requirement: &administrator, handler: c.stats},
		"users":     {usage: "users", description: "list users (admin)", requirement: &administrator, handler: c.listUsers},
		"role":      {usage: "role <user-id> <user|admin>", description: "change a user's role (admin)", requirement: &administrator, handler: c.setRole},
	}
}

// admit applies the route guard to the current session.
func (c *Console) admit(requirement guard.Requirement) bool {
	switch guard.Decide(c.session.Snapshot(), requirement) {
	case guard.Allow:
		return true
	case guard.Defer:
		c.printf("session is still loading, try again\n")
	case guard.RedirectLogin:
		c.printf("please log in first\n")
	case guard.Deny:
		c.printf("access denied: admin role required\n")
	}
	return false
}

func (c *Console) report(command string, err error) {
	if apperr.Is(err, apperr.KindBackend) {
		c.logger.Warn("console command failed", zap.String("command", command), zap.Error(err))
	}
	c.printf("error: %s\n", apperr.MessageOf(err))
}

func (c *Console) printf(format string, args ...interface{}) {
	c.outputMu.Lock()
	defer c.outputMu.Unlock()
	_, _ = fmt.Fprintf(c.output, format, args...)
}

func (c *Console) callerID() string {
	snapshot := c.session.Snapshot()
	if snapshot.Identity == nil {
		return ""
	}
	return snapshot.Identity.ID
}

func usageError(usage string) error {
	return apperr.New(apperr.KindInvalid, "console", "usage", "usage: "+usage, nil)
}
