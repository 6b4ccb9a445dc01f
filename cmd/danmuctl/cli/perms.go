package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/danmu-hub/console/internal/permissions"
)

// PermsListOptions defines the flags of perms list.
type PermsListOptions struct {
	Format string
	Stdout io.Writer
	Stderr io.Writer
}

type catalogEntry struct {
	Key     string `json:"key" yaml:"key"`
	Label   string `json:"label" yaml:"label"`
	Group   string `json:"group" yaml:"group"`
	Kind    string `json:"type" yaml:"type"`
	Danger  bool   `json:"danger" yaml:"danger"`
	Default bool   `json:"default" yaml:"default"`
}

func catalogEntries() []catalogEntry {
	var out []catalogEntry
	for _, g := range permissions.Groups() {
		for _, d := range g.Permissions {
			out = append(out, catalogEntry{
				Key:     d.Key,
				Label:   d.Label,
				Group:   d.Group,
				Kind:    string(d.Kind),
				Danger:  d.Danger,
				Default: permissions.DefaultBoolOf(d.Key),
			})
		}
	}
	return out
}

// ListCommand prints the permission catalog in display order.
func ListCommand(opts PermsListOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	entries := catalogEntries()
	switch strings.ToLower(opts.Format) {
	case "", "table":
		tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "GROUP\tKEY\tTYPE\tDEFAULT\tDANGER")
		for _, e := range entries {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", e.Group, e.Key, e.Kind, e.Default, e.Danger)
		}
		if err := tw.Flush(); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "perms list: %v\n", err)
			return 1
		}
	case "json":
		if err := json.NewEncoder(opts.Stdout).Encode(entries); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "perms list: encode json: %v\n", err)
			return 1
		}
	case "yaml":
		enc := yaml.NewEncoder(opts.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "perms list: encode yaml: %v\n", err)
			return 1
		}
		_ = enc.Close()
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "perms list: unknown format %q (table, json, yaml)\n", opts.Format)
		return 1
	}
	return 0
}

// PermsDiffOptions defines the flags of perms diff. Current is the stored
// override map and Desired the editor states, both as JSON objects.
type PermsDiffOptions struct {
	Current    string
	Desired    string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// PermsDiff is the outcome of applying editor states to stored overrides.
type PermsDiff struct {
	Delta   permissions.Overrides `json:"delta"`
	Merged  permissions.Overrides `json:"merged"`
	Changed []string              `json:"changed"`
}

// Diff computes the minimal delta and the keys whose effective value changes.
func Diff(current permissions.Overrides, desired permissions.States) PermsDiff {
	delta := permissions.DeltaFromStates(current, desired)
	merged := permissions.Merge(current, delta)
	changed := []string{}
	for _, key := range permissions.Keys() {
		if permissions.Effective(current, key) != permissions.Effective(merged, key) {
			changed = append(changed, key)
		}
	}
	return PermsDiff{Delta: delta, Merged: merged, Changed: changed}
}

// DiffCommand prints the delta the permission editor would persist.
func DiffCommand(opts PermsDiffOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	current := permissions.Overrides{}
	if strings.TrimSpace(opts.Current) != "" {
		if err := json.Unmarshal([]byte(opts.Current), &current); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "perms diff: invalid --current: %v\n", err)
			return 1
		}
	}
	raw := map[string]any{}
	if err := json.Unmarshal([]byte(opts.Desired), &raw); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "perms diff: invalid --desired: %v\n", err)
		return 1
	}
	result := Diff(current, permissions.ParseStates(raw))

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "perms diff: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	if len(result.Delta) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "no changes")
		return 0
	}
	keys := make([]string, 0, len(result.Delta))
	for k := range result.Delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		state := permissions.StateDeny
		if result.Delta[k] {
			state = permissions.StateAllow
		}
		_, _ = fmt.Fprintf(opts.Stdout, "%s -> %s\n", k, state)
	}
	return 0
}
