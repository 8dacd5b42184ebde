// Package git shells out to the git binary. Every operation is opaque: a
// non-zero exit is surfaced as a CommandError with the captured output.
package git

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// CommandError carries the failing git invocation and its captured output.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Client runs git commands in a working directory.
type Client struct {
	Dir string
}

func New(dir string) *Client { return &Client{Dir: dir} }

func (c *Client) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		out := stderr.String()
		if strings.TrimSpace(out) == "" {
			out = stdout.String()
		}
		return "", &CommandError{Args: args, Stderr: out, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (c *Client) CurrentBranch() (string, error) {
	return c.run("rev-parse", "--abbrev-ref", "HEAD")
}

// StatusPorcelain returns the non-empty lines of git status --porcelain.
func (c *Client) StatusPorcelain() ([]string, error) {
	out, err := c.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, ln := range strings.Split(out, "\n") {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	return lines, nil
}

// PathFromStatusLine extracts the repo-relative path from one porcelain line,
// resolving renames to the destination path.
func PathFromStatusLine(line string) string {
	if len(line) < 4 {
		return strings.TrimSpace(line)
	}
	path := strings.TrimSpace(line[3:])
	if _, after, ok := strings.Cut(path, " -> "); ok {
		path = strings.TrimSpace(after)
	}
	return strings.TrimPrefix(strings.ReplaceAll(path, "\\", "/"), "./")
}

// FileHasDiff reports whether path is untracked or differs from HEAD.
func (c *Client) FileHasDiff(path string) (bool, error) {
	if _, err := c.run("ls-files", "--error-unmatch", path); err != nil {
		return true, nil // untracked
	}
	cmd := exec.Command("git", "diff", "--quiet", "--", path)
	cmd.Dir = c.Dir
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return true, nil
		}
		return false, &CommandError{Args: []string{"diff", "--quiet", "--", path}, Err: err}
	}
	return false, nil
}

// Add stages the given paths.
func (c *Client) Add(paths ...string) error {
	_, err := c.run(append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records a commit with the given message.
func (c *Client) Commit(msg string) error {
	_, err := c.run("commit", "-m", msg)
	return err
}

// Push publishes the branch to the remote.
func (c *Client) Push(remote, branch string) error {
	_, err := c.run("push", remote, branch)
	return err
}
