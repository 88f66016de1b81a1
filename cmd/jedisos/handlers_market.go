package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jedisos/jedisos/internal/packages"
)

func openStore(configPath string) (*packages.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return packages.NewStore(cfg.ToolsRoot(), slog.Default())
}

func printInfos(out io.Writer, infos []packages.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "no packages")
		return
	}
	for _, info := range infos {
		m := info.Manifest
		fmt.Fprintf(out, "%-24s %-10s %-8s %s\n", m.Name, string(m.Type), m.Version, m.Description)
	}
}

func runMarketList(configPath, pkgType string, out io.Writer) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	printInfos(out, store.Search("", packages.Type(pkgType)))
	return nil
}

func runMarketSearch(configPath, query string, out io.Writer) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	printInfos(out, store.Search(query, ""))
	return nil
}

func runMarketInfo(configPath, name string, out io.Writer) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	info, ok := store.Get(name)
	if !ok {
		return fmt.Errorf("package %q is not installed", name)
	}
	m := info.Manifest
	fmt.Fprintf(out, "Name:        %s\n", m.Name)
	fmt.Fprintf(out, "Version:     %s\n", m.Version)
	fmt.Fprintf(out, "Type:        %s\n", m.Type)
	fmt.Fprintf(out, "Description: %s\n", m.Description)
	fmt.Fprintf(out, "License:     %s\n", m.License)
	fmt.Fprintf(out, "Author:      %s\n", m.Author)
	if len(m.Tags) > 0 {
		fmt.Fprintf(out, "Tags:        %s\n", strings.Join(m.Tags, ", "))
	}
	if len(m.Dependencies) > 0 {
		fmt.Fprintf(out, "Depends on:  %s\n", strings.Join(m.Dependencies, ", "))
	}
	fmt.Fprintf(out, "Directory:   %s\n", info.Dir)
	return nil
}

func runMarketValidate(dir string, out io.Writer) error {
	report := packages.Validate(dir)
	if report.Valid {
		fmt.Fprintf(out, "%s is a valid package\n", dir)
		return nil
	}
	for _, p := range report.Problems {
		fmt.Fprintf(out, "- %s\n", p)
	}
	return &exitError{code: 2, msg: fmt.Sprintf("%s failed validation with %d problem(s)", dir, len(report.Problems))}
}

func runMarketInstall(configPath, dir string, force bool, out io.Writer) error {
	report := packages.Validate(dir)
	if !report.Valid {
		for _, p := range report.Problems {
			fmt.Fprintf(out, "- %s\n", p)
		}
		return &exitError{code: 2, msg: fmt.Sprintf("%s failed validation with %d problem(s)", dir, len(report.Problems))}
	}

	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	info, err := store.Install(dir, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "installed %s %s (%s)\n", info.Manifest.Name, info.Manifest.Version, info.Manifest.Type)
	return nil
}

func runMarketRemove(configPath, name string, out io.Writer) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	if err := store.Remove(name); err != nil {
		return err
	}
	fmt.Fprintf(out, "removed %s\n", name)
	return nil
}
