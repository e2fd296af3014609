package console

import (
	"context"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/quill/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
)

const listTimeLayout = "2006-01-02 15:04"

func (c *Console) help(_ context.Context, _ []string) error {
	commands := c.commands()
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := commands[name]
		c.printf("  %-60s %s\n", spec.usage, spec.description)
	}
	c.printf("  %-60s %s\n", "quit", "leave the console")
	return nil
}

func (c *Console) signUp(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("signup <email> <password>")
	}
	identity, err := c.session.SignUp(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	c.printf("signed up as %s (%s)\n", identity.Email, identity.ID)
	return nil
}

func (c *Console) logIn(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("login <email> <password>")
	}
	identity, err := c.session.LogIn(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	c.printf("logged in as %s\n", identity.Email)
	return nil
}

func (c *Console) logOut(ctx context.Context, _ []string) error {
	c.stopWatching()
	if err := c.session.LogOut(ctx); err != nil {
		return err
	}
	c.printf("logged out\n")
	return nil
}

func (c *Console) whoAmI(_ context.Context, _ []string) error {
	snapshot := c.session.Snapshot()
	switch {
	case snapshot.Identity == nil:
		c.printf("state: %s\n", snapshot.State)
	case snapshot.Profile == nil:
		c.printf("state: %s, %s (profile pending)\n", snapshot.State, snapshot.Identity.Email)
	default:
		c.printf("state: %s, %s (%s) role=%s admin=%t\n",
			snapshot.State, snapshot.Profile.DisplayName, snapshot.Identity.Email, snapshot.Profile.Role, snapshot.IsAdmin())
	}
	return nil
}

func (c *Console) refresh(ctx context.Context, _ []string) error {
	if err := c.session.RefreshProfile(ctx); err != nil {
		return err
	}
	return c.whoAmI(ctx, nil)
}

func (c *Console) listPosts(ctx context.Context, args []string) error {
	filter := ""
	if len(args) > 0 {
		filter = strings.ToLower(args[0])
	}
	list, err := c.posts.List(ctx)
	if err != nil {
		return err
	}
	viewer := c.callerID()
	shown := 0
	for _, post := range list {
		switch filter {
		case "mine":
			if post.AuthorID != viewer {
				continue
			}
		case "published":
			if !post.IsPublished {
				continue
			}
		case "drafts":
			if post.IsPublished {
				continue
			}
		case "":
		default:
			return usageError("posts [mine|published|drafts]")
		}
		c.printPostLine(post)
		shown++
	}
	if shown == 0 {
		c.printf("no posts\n")
	}
	return nil
}

func (c *Console) printPostLine(post posts.Post) {
	status := "draft"
	if post.IsPublished {
		status = "published"
	}
	c.printf("%s  %s  [%s] %s\n", post.ID, post.Timestamp().Format(listTimeLayout), status, post.Title)
}

func (c *Console) showPost(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("show <id>")
	}
	post, err := c.posts.Get(ctx, args[0])
	if err != nil {
		return err
	}
	c.printf("%s\n", post.Title)
	if post.SubTitle != "" {
		c.printf("%s\n", post.SubTitle)
	}
	c.printf("id=%s author=%s category=%s published=%t created=%s\n",
		post.ID, post.AuthorID, post.Category, post.IsPublished, post.CreatedAt)
	c.printf("\n%s\n", post.Content)
	return nil
}

func (c *Console) newPost(ctx context.Context, args []string) error {
	parts := strings.Split(strings.Join(args, " "), "|")
	if len(parts) < 2 || len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
		return usageError("new <title> | <content> [| <category>]")
	}
	draft := posts.Draft{
		Title:   strings.TrimSpace(parts[0]),
		Content: strings.TrimSpace(parts[1]),
	}
	if len(parts) == 3 {
		draft.Category = strings.TrimSpace(parts[2])
	}
	postID, err := c.posts.Create(ctx, draft, c.callerID())
	if err != nil {
		return err
	}
	c.printf("created draft %s\n", postID)
	return nil
}

func (c *Console) publishPost(published bool) commandHandler {
	return func(ctx context.Context, args []string) error {
		if len(args) != 1 {
			if published {
				return usageError("publish <id>")
			}
			return usageError("unpublish <id>")
		}
		if err := c.posts.Update(ctx, args[0], posts.Patch{IsPublished: &published}, c.callerID()); err != nil {
			return err
		}
		if published {
			c.printf("published %s\n", args[0])
		} else {
			c.printf("unpublished %s\n", args[0])
		}
		return nil
	}
}

func (c *Console) editPost(ctx context.Context, args []string) error {
	const usage = "edit <id> <title|subtitle|content|category|image> <value>"
	if len(args) < 3 {
		return usageError(usage)
	}
	value := strings.Join(args[2:], " ")
	var patch posts.Patch
	switch strings.ToLower(args[1]) {
	case "title":
		patch.Title = &value
	case "subtitle":
		patch.SubTitle = &value
	case "content":
		patch.Content = &value
	case "category":
		patch.Category = &value
	case "image":
		patch.ImageURL = &value
	default:
		return usageError(usage)
	}
	if err := c.posts.Update(ctx, args[0], patch, c.callerID()); err != nil {
		return err
	}
	c.printf("updated %s\n", args[0])
	return nil
}

func (c *Console) deletePost(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("delete <id>")
	}
	if err := c.posts.Delete(ctx, args[0], c.callerID()); err != nil {
		return err
	}
	c.printf("deleted %s\n", args[0])
	return nil
}

func (c *Console) watch(ctx context.Context, _ []string) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.unwatch != nil {
		c.printf("already watching\n")
		return nil
	}
	unsubscribe, err := c.posts.Subscribe(context.WithoutCancel(ctx), func(list []posts.Post) {
		c.printf("-- %d posts --\n", len(list))
		for _, post := range list {
			c.printPostLine(post)
		}
	})
	if err != nil {
		return err
	}
	c.unwatch = unsubscribe
	c.printf("watching posts\n")
	return nil
}

func (c *Console) stopWatch(_ context.Context, _ []string) error {
	if c.stopWatching() {
		c.printf("stopped watching\n")
	} else {
		c.printf("not watching\n")
	}
	return nil
}

func (c *Console) stopWatching() bool {
	c.watchMu.Lock()
	unsubscribe := c.unwatch
	c.unwatch = nil
	c.watchMu.Unlock()
	if unsubscribe == nil {
		return false
	}
	unsubscribe()
	return true
}

func (c *Console) stats(ctx context.Context, _ []string) error {
	stats, err := c.directory.Stats(ctx, c.callerID())
	if err != nil {
		return err
	}
	c.printf("total=%d published=%d drafts=%d mine=%d\n", stats.Total, stats.Published, stats.Drafts, stats.Mine)
	for _, post := range stats.Recent {
		c.printPostLine(post)
	}
	return nil
}

func (c *Console) listUsers(ctx context.Context, _ []string) error {
	users, err := c.directory.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		c.printf("%s  %-32s %-6s active=%t\n", user.ID, user.Email, user.Role, user.IsActive)
	}
	return nil
}

func (c *Console) setRole(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("role <user-id> <user|admin>")
	}
	role, err := profiles.ParseRole(args[1])
	if err != nil {
		return usageError("role <user-id> <user|admin>")
	}
	if err := c.directory.SetRole(ctx, args[0], role, c.callerID()); err != nil {
		return err
	}
	c.printf("%s is now %s\n", args[0], role)
	return nil
}
