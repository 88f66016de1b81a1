package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jedisos/jedisos/internal/packages"
)

// writeWorkspaceConfig points a config file at a temp workspace so store
// operations never touch the developer's directories.
func writeWorkspaceConfig(t *testing.T) (configPath, workspace string) {
	t.Helper()
	workspace = t.TempDir()
	configPath = filepath.Join(workspace, "jedisos.yaml")
	content := "workspace: " + workspace + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, workspace
}

func writeSkillPackage(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	manifest := `name: ` + name + `
version: 1.0.0
description: echoes its input
type: skill
license: MIT
author: tester
tags: [test]
`
	skill := `from jedisos import tool

@tool(description="Echo the input back.")
def echo(text: str) -> str:
    return text
`
	if err := os.WriteFile(filepath.Join(dir, packages.ManifestFilename), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.py"), []byte(skill), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestInitScaffoldsWorkspace(t *testing.T) {
	workspace := t.TempDir()
	configPath := filepath.Join(workspace, "jedisos.yaml")

	var out bytes.Buffer
	if err := runInit(workspace, configPath, false, &out); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"IDENTITY.md", ".env", "jedisos.yaml"} {
		if _, err := os.Stat(filepath.Join(workspace, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	for _, sub := range []string{"skills", "mcp-servers", "prompts", "workflows", "identities", "bundles"} {
		if _, err := os.Stat(filepath.Join(workspace, "tools", sub)); err != nil {
			t.Errorf("missing tools/%s: %v", sub, err)
		}
	}

	// A second init without --force keeps the existing files.
	out.Reset()
	if err := runInit(workspace, configPath, false, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "keeping existing") {
		t.Errorf("output: %q", out.String())
	}
}

func TestMarketInstallListInfoRemove(t *testing.T) {
	configPath, _ := writeWorkspaceConfig(t)
	pkg := writeSkillPackage(t, "echoer")

	var out bytes.Buffer
	if err := runMarketInstall(configPath, pkg, false, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "installed echoer 1.0.0") {
		t.Fatalf("output: %q", out.String())
	}

	// Reinstall without force fails; with force succeeds.
	if err := runMarketInstall(configPath, pkg, false, &out); err == nil {
		t.Error("reinstall without force accepted")
	}
	if err := runMarketInstall(configPath, pkg, true, &out); err != nil {
		t.Errorf("forced reinstall: %v", err)
	}

	out.Reset()
	if err := runMarketList(configPath, "skill", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "echoer") {
		t.Fatalf("list output: %q", out.String())
	}

	out.Reset()
	if err := runMarketSearch(configPath, "echo", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "echoer") {
		t.Fatalf("search output: %q", out.String())
	}

	out.Reset()
	if err := runMarketInfo(configPath, "echoer", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Version:     1.0.0") {
		t.Fatalf("info output: %q", out.String())
	}

	if err := runMarketRemove(configPath, "echoer", &out); err != nil {
		t.Fatal(err)
	}
	if err := runMarketInfo(configPath, "echoer", &out); err == nil {
		t.Error("removed package still reported")
	}
}

func TestMarketValidateExitCode(t *testing.T) {
	good := writeSkillPackage(t, "fine")
	var out bytes.Buffer
	if err := runMarketValidate(good, &out); err != nil {
		t.Fatal(err)
	}

	// A package with a bad license fails with exit code 2.
	bad := t.TempDir()
	manifest := "name: shady\nversion: 1.0.0\ndescription: x\ntype: prompt\nlicense: WTFPL\nauthor: y\n"
	if err := os.WriteFile(filepath.Join(bad, packages.ManifestFilename), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	err := runMarketValidate(bad, &out)
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 2 {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateReportsBrokenPackages(t *testing.T) {
	configPath, _ := writeWorkspaceConfig(t)
	pkg := writeSkillPackage(t, "echoer")

	var out bytes.Buffer
	if err := runMarketInstall(configPath, pkg, false, &out); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := runUpdate(configPath, &out); err != nil {
		t.Fatalf("clean update: %v (%s)", err, out.String())
	}
	if !strings.Contains(out.String(), "ok    echoer") {
		t.Fatalf("output: %q", out.String())
	}

	// Break the installed skill; update now exits 2.
	store, err := openStore(configPath)
	if err != nil {
		t.Fatal(err)
	}
	info, ok := store.Get("echoer")
	if !ok {
		t.Fatal("installed package not found")
	}
	if err := os.Remove(filepath.Join(info.Dir, "skill.py")); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	uerr := runUpdate(configPath, &out)
	var exit *exitError
	if !errors.As(uerr, &exit) || exit.code != 2 {
		t.Fatalf("err = %v", uerr)
	}
	if !strings.Contains(out.String(), "FAIL  echoer") {
		t.Fatalf("output: %q", out.String())
	}
}

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd()
	want := []string{"serve", "chat", "health", "init", "update", "market"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
