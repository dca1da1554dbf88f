package command

import (
	"fmt"
	"strings"

	"factorio-server-manager/access"
	"factorio-server-manager/db"
	"factorio-server-manager/domain"
	"factorio-server-manager/notify"
	"factorio-server-manager/profile"
	"factorio-server-manager/version"
)

type commands struct {
	o      *profile.Orchestrator
	acl    *access.Store
	reg    *Registry
	prefix string
}

// NewDefaultRegistry registers every command against o and the allow-list acl.
func NewDefaultRegistry(o *profile.Orchestrator, acl *access.Store, prefix string) *Registry {
	c := &commands{o: o, acl: acl, reg: NewRegistry(), prefix: prefix}
	for _, d := range c.descriptors() {
		c.reg.Register(d)
	}
	return c.reg
}

func (c *commands) descriptors() []Descriptor {
	return []Descriptor{
		{Path: []string{"help"}, Args: "[command]", MaxArgs: Unlimited, Help: "List commands, or show the help of one command", Handler: c.help},
		{Path: []string{"info"}, Help: "Show the active profile and the server state", Handler: c.info},

		{Path: []string{"create", "profile"}, Args: "<name> [version] [experimental]", MinArgs: 1, MaxArgs: 3,
			Help: "Create a profile targeting a game version (latest stable by default) and make it active", Handler: c.createProfile},
		{Path: []string{"copy", "profile"}, Args: "<name>", MinArgs: 1, MaxArgs: 1,
			Help: "Copy the active profile with its mods and config files", Handler: c.copyProfile},
		{Path: []string{"remove", "profile"}, Args: "<name>", MinArgs: 1, MaxArgs: 1, OwnerOnly: true,
			Help: "Delete a profile, its files and mods, stopping its server", Handler: c.removeProfile},
		{Path: []string{"swap"}, Args: "<name>", MinArgs: 1, MaxArgs: 1, Help: "Make another profile active", Handler: c.swap},
		{Path: []string{"update", "profile"}, Args: "[version] [experimental]", MaxArgs: 2,
			Help: "Move the active profile to another game version, latest by default", Handler: c.updateProfile},
		{Path: []string{"update", "mod"}, Args: "<name>", MinArgs: 1, MaxArgs: 1,
			Help: "Move a mod of the active profile to its latest compatible release", Handler: c.updateMod},
		{Path: []string{"update", "all"}, Help: "Update every mod of the active profile", Handler: c.updateAll},

		{Path: []string{"add", "mod"}, Args: "<name> [version]", MinArgs: 1, MaxArgs: 2,
			Help: "Add a mod to the active profile, latest compatible release by default", Handler: c.addMod},
		{Path: []string{"remove", "mod"}, Args: "<name>", MinArgs: 1, MaxArgs: 1, Help: "Remove a mod from the active profile", Handler: c.removeMod},
		{Path: []string{"remove", "file"}, Args: "<file>", MinArgs: 1, MaxArgs: 1, Help: "Delete a file of the active profile", Handler: c.removeFile},

		{Path: []string{"build"}, Help: "Download the game and mods and generate the map of the active profile", Handler: c.build},
		{Path: []string{"start"}, Args: "[save]", MaxArgs: 1, Help: "Start the server of the active profile", Handler: c.start},
		{Path: []string{"stop"}, Help: "Stop the running server", Handler: c.stop},

		{Path: []string{"sync"}, OwnerOnly: true, Help: "Sync game versions and the mod list", Handler: c.syncAll},
		{Path: []string{"sync", "all"}, OwnerOnly: true, Help: "Sync game versions and the mod list", Handler: c.syncAll},
		{Path: []string{"sync", "game"}, OwnerOnly: true, Help: "Sync game versions", Handler: c.syncGame},
		{Path: []string{"sync", "mods"}, OwnerOnly: true, Help: "Sync the mod list", Handler: c.syncMods},
		{Path: []string{"sync", "mod"}, Args: "<name>", MinArgs: 1, MaxArgs: 1, Help: "Sync the releases of one mod", Handler: c.syncMod},

		{Path: []string{"edit"}, Help: "Get a link to edit the config files of the active profile", Handler: c.edit},
		{Path: []string{"revoke"}, Help: "Invalidate every link of the active profile", Handler: c.revoke},
		{Path: []string{"get", "client"}, Args: "[platform] [flavor]", MaxArgs: 2,
			Help: "Get the game client matching the active profile (win64 alpha by default)", Handler: c.getClient},
		{Path: []string{"get", "mods"}, Help: "Get the mods of the active profile as one archive", Handler: c.getMods},

		{Path: []string{"allow", "user"}, Args: "<id...>", MinArgs: 1, MaxArgs: Unlimited, OwnerOnly: true,
			Help: "Allow users to run commands", Handler: c.allow(db.SubjectUser)},
		{Path: []string{"allow", "role"}, Args: "<id...>", MinArgs: 1, MaxArgs: Unlimited, OwnerOnly: true,
			Help: "Allow every member of roles to run commands", Handler: c.allow(db.SubjectRole)},
		{Path: []string{"disallow", "user"}, Args: "<id...>", MinArgs: 1, MaxArgs: Unlimited, OwnerOnly: true,
			Help: "Remove users from the allowed list", Handler: c.disallow(db.SubjectUser)},
		{Path: []string{"disallow", "role"}, Args: "<id...>", MinArgs: 1, MaxArgs: Unlimited, OwnerOnly: true,
			Help: "Remove roles from the allowed list", Handler: c.disallow(db.SubjectRole)},
		{Path: []string{"list", "allowed"}, Help: "List allowed users and roles", Handler: c.listAllowed},

		{Path: []string{"list", "profiles"}, Help: "List profiles", Handler: c.listProfiles},
		{Path: []string{"list", "mods"}, Help: "List the mods of the active profile", Handler: c.listMods},
		{Path: []string{"list", "files"}, Help: "List the files of the active profile with download links", Handler: c.listFiles},
		{Path: []string{"list", "releases", "game"}, Args: "[version]", MaxArgs: 1, Help: "List known game versions", Handler: c.listGameReleases},
		{Path: []string{"list", "releases", "mod"}, Args: "<name>", MinArgs: 1, MaxArgs: 1, Help: "List the releases of a mod", Handler: c.listModReleases},
	}
}

func (c *commands) help(ctx *Context) error {
	if len(ctx.Args) > 0 {
		d, _, err := c.reg.Lookup(ctx.Args)
		if err != nil {
			return err
		}
		ctx.Reporter.Print(fmt.Sprintf("`%s`\n%s", d.Usage(c.prefix), d.Help))
		return nil
	}
	var lines []string
	for _, d := range c.reg.Descriptors() {
		lines = append(lines, fmt.Sprintf("`%s`: %s", d.Usage(c.prefix), d.Help))
	}
	ctx.Reporter.Print(notify.List("Commands", lines))
	return nil
}

func (c *commands) info(ctx *Context) error {
	info, err := c.o.Info(ctx, ctx.Session)
	if err != nil {
		return err
	}
	p := info.Profile
	ctx.Reporter.Print(strings.Join([]string{
		fmt.Sprintf("Profile: **%s**", p.Name),
		fmt.Sprintf("Game version: %s (requested %s, experimental %s)", p.GameRelease.Version, p.TargetVersion, yesNo(p.AllowExperimental)),
		fmt.Sprintf("Game downloaded: %s", yesNo(p.GameRelease.Installed())),
		fmt.Sprintf("Mods: %d", len(info.Mods)),
		fmt.Sprintf("Server: %s", info.Server),
	}, "\n"))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func parseExperimental(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "false", "no", "stable":
		return false, nil
	case "true", "yes", "experimental":
		return true, nil
	}
	return false, fmt.Errorf("%w: %q, expected experimental or stable", domain.ErrInvalidArgument, s)
}

func (c *commands) createProfile(ctx *Context) error {
	experimental, err := parseExperimental(ctx.Arg(2, ""))
	if err != nil {
		return err
	}
	ctx.Reporter.Running("Creating profile %s...", ctx.Args[0])
	p, err := c.o.CreateProfile(ctx, ctx.Session, ctx.Args[0], ctx.Arg(1, ""), experimental)
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Profile **%s** created for game version %s and selected. Run `%sbuild` to prepare it", p.Name, p.GameRelease.Version, c.prefix)
	return nil
}

func (c *commands) copyProfile(ctx *Context) error {
	p, err := c.o.CopyProfile(ctx, ctx.Session, ctx.Args[0])
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Profile copied to **%s** and selected. Run `%sbuild` to generate its map", p.Name, c.prefix)
	return nil
}

func (c *commands) removeProfile(ctx *Context) error {
	if err := c.o.RemoveProfile(ctx, ctx.Args[0]); err != nil {
		return err
	}
	ctx.Reporter.Done("Profile **%s** removed", ctx.Args[0])
	return nil
}

func (c *commands) swap(ctx *Context) error {
	p, err := c.o.SwapProfile(ctx, ctx.Session, ctx.Args[0])
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Swapped to profile **%s** (game version %s)", p.Name, p.GameRelease.Version)
	return nil
}

func (c *commands) updateProfile(ctx *Context) error {
	var experimental *bool
	if len(ctx.Args) > 1 {
		e, err := parseExperimental(ctx.Args[1])
		if err != nil {
			return err
		}
		experimental = &e
	}
	p, changed, err := c.o.UpdateProfile(ctx, ctx.Session, ctx.Arg(0, ""), experimental)
	if err != nil {
		return err
	}
	if !changed {
		ctx.Reporter.Done("Profile **%s** is already at version %s", p.Name, p.GameRelease.Version)
		return nil
	}
	ctx.Reporter.Done("Profile **%s** moved to game version %s. Run `%sbuild` to download it", p.Name, p.GameRelease.Version, c.prefix)
	return nil
}

func (c *commands) updateMod(ctx *Context) error {
	old, latest, err := c.o.UpdateMod(ctx, ctx.Session, ctx.Args[0], ctx.Reporter)
	if err != nil {
		return err
	}
	if old.ID == latest.ID {
		ctx.Reporter.Done("%s is already at its latest compatible release %s", ctx.Args[0], latest.Version)
		return nil
	}
	ctx.Reporter.Done("%s updated from %s to %s. Run `%sbuild` to download it", ctx.Args[0], old.Version, latest.Version, c.prefix)
	return nil
}

func (c *commands) updateAll(ctx *Context) error {
	mods, err := c.o.ListMods(ctx, ctx.Session)
	if err != nil {
		return err
	}
	var lines []string
	for _, m := range mods {
		old, latest, err := c.o.UpdateMod(ctx, ctx.Session, m.Mod.Name, ctx.Reporter)
		switch {
		case err != nil:
			lines = append(lines, fmt.Sprintf("%s: %v", m.Mod.Name, err))
		case old.ID != latest.ID:
			lines = append(lines, fmt.Sprintf("%s: %s -> %s", m.Mod.Name, old.Version, latest.Version))
		}
	}
	if len(lines) == 0 {
		ctx.Reporter.Done("Every mod is up to date")
		return nil
	}
	ctx.Reporter.Print(notify.List("Mod updates", lines))
	return nil
}

func (c *commands) addMod(ctx *Context) error {
	rel, err := c.o.AddMod(ctx, ctx.Session, ctx.Args[0], ctx.Arg(1, ""), ctx.Reporter)
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Added %s %s (game version %s). Run `%sbuild` to download it", ctx.Args[0], rel.Version, rel.FactorioVersion, c.prefix)
	return nil
}

func (c *commands) removeMod(ctx *Context) error {
	rel, err := c.o.RemoveMod(ctx, ctx.Session, ctx.Args[0])
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Removed %s %s", ctx.Args[0], rel.Version)
	return nil
}

func (c *commands) removeFile(ctx *Context) error {
	if err := c.o.RemoveFile(ctx, ctx.Session, ctx.Args[0]); err != nil {
		return err
	}
	ctx.Reporter.Done("Deleted %s", ctx.Args[0])
	return nil
}

func (c *commands) build(ctx *Context) error {
	if err := c.o.Build(ctx, ctx.Session, ctx.Reporter); err != nil {
		return err
	}
	ctx.Reporter.Done("Build complete. Run `%sstart` to launch the server", c.prefix)
	return nil
}

func (c *commands) start(ctx *Context) error {
	if err := c.o.Start(ctx, ctx.Session, ctx.Arg(0, ""), ctx.Reporter); err != nil {
		return err
	}
	name, _ := ctx.Session.Active()
	ctx.Reporter.Done("Server of **%s** started", name)
	return nil
}

func (c *commands) stop(ctx *Context) error {
	if !c.o.Stop() {
		return domain.ErrProcessNotRunning
	}
	ctx.Reporter.Done("Server stopped")
	return nil
}

func (c *commands) syncGame(ctx *Context) error {
	stats, err := c.o.Catalog().SyncGameReleases(ctx, ctx.Reporter)
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Game versions synced (%s)", stats)
	return nil
}

func (c *commands) syncMods(ctx *Context) error {
	stats, err := c.o.Catalog().SyncMods(ctx, ctx.Reporter)
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Mod list synced (%s)", stats)
	return nil
}

func (c *commands) syncAll(ctx *Context) error {
	game, err := c.o.Catalog().SyncGameReleases(ctx, ctx.Reporter)
	if err != nil {
		return err
	}
	mods, err := c.o.Catalog().SyncMods(ctx, ctx.Reporter)
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Synced game versions (%s) and mods (%s)", game, mods)
	return nil
}

func (c *commands) syncMod(ctx *Context) error {
	mod, err := c.o.Catalog().ModByName(ctx, ctx.Args[0])
	if err != nil {
		return err
	}
	stats, err := c.o.Catalog().SyncModReleases(ctx, mod, ctx.Reporter)
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Releases of %s synced (%s)", mod.Name, stats)
	return nil
}

func (c *commands) edit(ctx *Context) error {
	link, err := c.o.EditLink(ctx, ctx.Session)
	if err != nil {
		return err
	}
	ctx.Reporter.Print(fmt.Sprintf("Edit the config files here: %s\n%s", link, profile.LinkNotice))
	return nil
}

func (c *commands) revoke(ctx *Context) error {
	p, err := c.o.RevokeToken(ctx, ctx.Session)
	if err != nil {
		return err
	}
	ctx.Reporter.Done("Links of **%s** revoked", p.Name)
	return nil
}

func (c *commands) getClient(ctx *Context) error {
	platform, err := domain.ParseUserPlatform(ctx.Arg(0, string(domain.PlatformWin64)))
	if err != nil {
		return err
	}
	flavor, err := domain.ParseUserBuildFlavor(ctx.Arg(1, string(domain.BuildAlpha)))
	if err != nil {
		return err
	}
	link, err := c.o.ClientLink(ctx, ctx.Session, platform, flavor)
	if err != nil {
		return err
	}
	ctx.Reporter.Print(fmt.Sprintf("Game client (%s, %s): %s", platform, flavor, link))
	return nil
}

func (c *commands) getMods(ctx *Context) error {
	ctx.Reporter.Running("Packing mods...")
	link, err := c.o.ModPackLink(ctx, ctx.Session)
	if err != nil {
		return err
	}
	ctx.Reporter.Print(fmt.Sprintf("Modpack: %s\n%s", link, profile.LinkNotice))
	return nil
}

func (c *commands) listProfiles(ctx *Context) error {
	profiles, err := c.o.ListProfiles(ctx)
	if err != nil {
		return err
	}
	active, _ := ctx.Session.Active()
	lines := make([]string, len(profiles))
	for i, p := range profiles {
		marker := ""
		if p.Name == active {
			marker = " (active)"
		}
		lines[i] = fmt.Sprintf("%s: %s%s", p.Name, p.GameRelease.Version, marker)
	}
	ctx.Reporter.Print(notify.List("Profiles", lines))
	return nil
}

func (c *commands) listMods(ctx *Context) error {
	mods, err := c.o.ListMods(ctx, ctx.Session)
	if err != nil {
		return err
	}
	ctx.Reporter.Print(notify.List("Mods", modLines(mods)))
	return nil
}

func modLines(mods []db.ModRelease) []string {
	lines := make([]string, len(mods))
	for i, m := range mods {
		lines[i] = fmt.Sprintf("%s %s (game %s)", m.Mod.Name, m.Version, m.FactorioVersion)
	}
	return lines
}

func (c *commands) listFiles(ctx *Context) error {
	files, err := c.o.ListFiles(ctx, ctx.Session)
	if err != nil {
		return err
	}
	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = fmt.Sprintf("[%s](%s) %s", f.Name, f.URL, notify.FileSize(f.Size))
	}
	ctx.Reporter.Print(notify.List("Files", lines) + "\n" + profile.LinkNotice)
	return nil
}

func (c *commands) listGameReleases(ctx *Context) error {
	prefix := ctx.Arg(0, "")
	if prefix != "" {
		if err := version.Validate(prefix); err != nil {
			return err
		}
	}
	releases, err := c.o.Catalog().GameReleases(ctx)
	if err != nil {
		return err
	}
	var lines []string
	seen := make(map[string]bool)
	for _, r := range releases {
		if seen[r.Version] || !strings.HasPrefix(r.Version, prefix) {
			continue
		}
		seen[r.Version] = true
		stability := "experimental"
		if r.IsStable {
			stability = "stable"
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", r.Version, stability))
	}
	ctx.Reporter.Print(notify.List("Game versions", lines))
	return nil
}

func (c *commands) listModReleases(ctx *Context) error {
	store := c.o.Catalog()
	mod, err := store.ModByName(ctx, ctx.Args[0])
	if err != nil {
		return err
	}
	releases, err := store.ModReleases(ctx, mod)
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		if _, err := store.SyncModReleases(ctx, mod, ctx.Reporter); err != nil {
			return err
		}
		if releases, err = store.ModReleases(ctx, mod); err != nil {
			return err
		}
	}
	ctx.Reporter.Print(notify.List("Releases of "+mod.Name, modLines(releases)))
	return nil
}

func (c *commands) allow(kind db.SubjectKind) Handler {
	return func(ctx *Context) error {
		var ignored []string
		for _, id := range ctx.Args {
			added, err := c.acl.Allow(ctx, id, kind)
			if err != nil {
				return err
			}
			if !added {
				ignored = append(ignored, id)
			}
		}
		if len(ignored) > 0 {
			ctx.Reporter.Fail("Following %ss are already allowed and were ignored: %s", kind, strings.Join(ignored, ", "))
			return nil
		}
		ctx.Reporter.Done("Allowed every given %s", kind)
		return nil
	}
}

func (c *commands) disallow(kind db.SubjectKind) Handler {
	return func(ctx *Context) error {
		var ignored []string
		for _, id := range ctx.Args {
			removed, err := c.acl.Disallow(ctx, id, kind)
			if err != nil {
				return err
			}
			if !removed {
				ignored = append(ignored, id)
			}
		}
		if len(ignored) > 0 {
			ctx.Reporter.Fail("Following %ss are not allowed and were ignored: %s", kind, strings.Join(ignored, ", "))
			return nil
		}
		ctx.Reporter.Done("Removed every given %s from the allowed list", kind)
		return nil
	}
}

func (c *commands) listAllowed(ctx *Context) error {
	ids, err := c.acl.List(ctx)
	if err != nil {
		return err
	}
	lines := make([]string, len(ids))
	for i, id := range ids {
		lines[i] = fmt.Sprintf("%s (%s)", id.SubjectID, id.Kind)
	}
	ctx.Reporter.Print(notify.List("Allowed", lines))
	return nil
}
