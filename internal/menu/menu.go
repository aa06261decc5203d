// Package menu turns the orchestrator state and the pending migrations into a
// declarative tree. Building is pure; presenters discard the previous tree
// and install the new one.
package menu

import (
	"github.com/loykin/firestarter/internal/intent"
	"github.com/loykin/firestarter/internal/migration"
)

// Title of the root menu.
const Title = "Node on Fire"

// Radio groups.
const (
	GroupApps       = 1
	GroupMigrations = 2
)

// ItemType distinguishes entries a presenter renders differently.
type ItemType string

const (
	TypeNormal    ItemType = ""
	TypeSeparator ItemType = "separator"
	TypeRadio     ItemType = "radio"
)

// Item is one menu entry. Disabled items carry no command.
type Item struct {
	Type     ItemType `json:"type,omitempty"`
	Label    string   `json:"label,omitempty"`
	Command  string   `json:"command,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
	Group    int      `json:"group,omitempty"`
	Checked  bool     `json:"checked,omitempty"`
	Submenu  []Item   `json:"submenu,omitempty"`
}

// Tree is the root menu.
type Tree struct {
	Label string `json:"label"`
	Items []Item `json:"items"`
}

// AppMigrations are the pending migrations of one application.
type AppMigrations struct {
	App     string           `json:"app"`
	Current int              `json:"current"`
	Pending []migration.File `json:"pending"`
	// Err is set when the schema version could not be read.
	Err string `json:"error,omitempty"`
}

// Input is everything the tree depends on.
type Input struct {
	// Apps lists the applications of a per-application migrations layout;
	// empty for a flat layout.
	Apps       []string
	CurrentApp string

	Building  bool
	Releasing bool
	Running   bool

	// Flat renders the single application's migrations directly.
	Flat       bool
	Migrations []AppMigrations
}

// Build renders in.
func Build(in Input) Tree {
	t := Tree{Label: Title}

	if len(in.Apps) > 0 {
		for _, app := range in.Apps {
			t.Items = append(t.Items, Item{
				Type:    TypeRadio,
				Label:   app,
				Group:   GroupApps,
				Checked: app == in.CurrentApp,
			})
		}
		t.Items = append(t.Items, Separator())
	}

	if in.Building {
		t.Items = append(t.Items, Item{Label: "Building...", Disabled: true})
	} else {
		t.Items = append(t.Items, Item{Label: "Build", Command: intent.Build})
	}
	if in.Releasing {
		t.Items = append(t.Items, Item{Label: "Releasing...", Disabled: true})
	} else {
		t.Items = append(t.Items, Item{Label: "Release", Command: intent.Release})
	}
	if in.Running {
		t.Items = append(t.Items,
			Item{Label: "Stop", Command: intent.Stop},
			Item{Label: "Restart", Command: intent.Restart},
			Item{Label: "Build and Restart", Command: intent.BuildAndRestart},
		)
	} else {
		t.Items = append(t.Items, Item{Label: "Run", Command: intent.Run})
	}

	t.Items = append(t.Items, Separator(), Item{Label: "Migrations", Submenu: migrationsMenu(in)})
	return t
}

func Separator() Item { return Item{Type: TypeSeparator} }

func migrationsMenu(in Input) []Item {
	if in.Flat {
		if len(in.Migrations) == 0 {
			return []Item{}
		}
		return versionItems(in.Migrations[0])
	}
	items := []Item{}
	for _, m := range in.Migrations {
		if len(m.Pending) == 0 && m.Err == "" {
			continue
		}
		items = append(items, Item{Label: m.App, Submenu: versionItems(m)})
	}
	return items
}

func versionItems(m AppMigrations) []Item {
	if m.Err != "" {
		return []Item{{Label: "Schema version unavailable", Disabled: true}}
	}
	items := make([]Item, 0, len(m.Pending))
	for _, f := range m.Pending {
		items = append(items, Item{
			Type:    TypeRadio,
			Label:   f.Prefix,
			Command: intent.MigrateName(m.App, f.Version),
			Group:   GroupMigrations,
		})
	}
	return items
}

// Commands lists every command reachable from t, depth first.
func (t Tree) Commands() []string {
	var out []string
	var walk func([]Item)
	walk = func(items []Item) {
		for _, it := range items {
			if it.Command != "" {
				out = append(out, it.Command)
			}
			walk(it.Submenu)
		}
	}
	walk(t.Items)
	return out
}
