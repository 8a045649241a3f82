//go:build stave

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
)

// Default target when running `stave` with no arguments.
var Default = Build

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"i": Install,
	"c": Clean,
}

const (
	binaryName = "snaptrack"
	mainPkg    = "./cmd/snaptrack"
	binDir     = "bin"
)

// loops are the long-running commands a host runs, one process each.
var loops = []string{"monitor", "janitor", "scrape", "serve"}

// All lints, tests and builds.
func All() error {
	st.Deps(Lint, Test)
	st.Deps(Build)
	return nil
}

// Build compiles the snaptrack binary.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}
	return sh.RunV("go", "build", "-ldflags", buildLdflags(), "-o", filepath.Join(binDir, binaryName), mainPkg)
}

// Install copies the binary to GOBIN, GOPATH/bin or /usr/local/bin.
func Install() error {
	st.Deps(Build)

	dir, err := installDir()
	if err != nil {
		return err
	}
	dst := filepath.Join(dir, binaryName)
	if st.Verbose() {
		fmt.Printf("Installing %s\n", dst)
	}
	return sh.Copy(dst, filepath.Join(binDir, binaryName))
}

// Units writes a systemd unit per loop into bin/systemd.
func Units() error {
	dir, err := installDir()
	if err != nil {
		return err
	}
	out := filepath.Join(binDir, "systemd")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, loop := range loops {
		unit := fmt.Sprintf(`[Unit]
Description=snaptrack %[1]s
After=network-online.target

[Service]
ExecStart=%[2]s %[1]s
Restart=on-failure
RestartSec=30

[Install]
WantedBy=default.target
`, loop, filepath.Join(dir, binaryName))
		path := filepath.Join(out, "snaptrack-"+loop+".service")
		if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if st.Verbose() {
			fmt.Printf("Wrote %s\n", path)
		}
	}
	return nil
}

// Test runs all tests with race detection and coverage.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	return sh.Rm(binDir + "/")
}

// Fmt formats all Go code.
func Fmt() error {
	if err := sh.Run("gofmt", "-w", "."); err != nil {
		return fmt.Errorf("running gofmt: %w", err)
	}
	return sh.Run("goimports", "-w", ".")
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

func installDir() (string, error) {
	gocmd := st.GoCmd()
	bin, err := sh.Output(gocmd, "env", "GOBIN")
	if err != nil {
		return "", fmt.Errorf("determining GOBIN: %w", err)
	}
	if bin != "" {
		return bin, nil
	}
	gopath, err := sh.Output(gocmd, "env", "GOPATH")
	if err != nil {
		return "", fmt.Errorf("determining GOPATH: %w", err)
	}
	if gopath != "" {
		return filepath.Join(gopath, "bin"), nil
	}
	return "/usr/local/bin", nil
}

// buildLdflags returns ldflags for version injection.
func buildLdflags() string {
	version := "dev"
	commit := "unknown"
	date := time.Now().Format(time.RFC3339)

	if v, err := sh.Output("git", "describe", "--tags", "--always"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}
	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	pkg := "main"
	return fmt.Sprintf("-X %s.version=%s -X %s.commit=%s -X %s.date=%s", pkg, version, pkg, commit, pkg, date)
}
