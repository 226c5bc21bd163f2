package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/disiqueira/gotree/v3"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"offsync-go/internal/offsync"
)

// passphraseEnv lets scripts supply the patch passphrase without a prompt.
const passphraseEnv = "OFFSYNC_PASSWORD"

// readPassphrase returns the passphrase from the environment or prompts for it on the
// terminal. confirm asks twice.
func readPassphrase(confirm bool) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: set %s or run from a terminal", offsync.ErrPasswordRequired, passphraseEnv)
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", offsync.ErrPasswordRequired
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passphrases do not match")
		}
	}
	return string(first), nil
}

// confirm asks a yes/no question on stdin. Anything but y or yes is a no.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// progressPrinter redraws a single status line on stderr while a stage runs.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	last    string
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{w: os.Stderr, enabled: term.IsTerminal(int(os.Stderr.Fd()))}
}

func (p *progressPrinter) hooks() offsync.Hooks {
	if !p.enabled {
		return offsync.Hooks{}
	}
	return offsync.Hooks{OnProgress: p.update}
}

func (p *progressPrinter) update(pr offsync.Progress) {
	line := fmt.Sprintf("%-6s %d/%d files", pr.Stage, pr.Done, pr.Total)
	if pr.BytesTotal > 0 {
		line += fmt.Sprintf("  %s/%s", humanize.Bytes(uint64(pr.BytesDone)), humanize.Bytes(uint64(pr.BytesTotal)))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintf(p.w, "\r\033[2K%s", line)
}

// done ends the status line.
func (p *progressPrinter) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled && p.last != "" {
		fmt.Fprintln(p.w)
		p.last = ""
	}
}

// pathTree renders slash-separated paths below one label per root.
type pathTree struct {
	tree gotree.Tree
	dirs map[string]gotree.Tree
}

func newPathTree(label string) *pathTree {
	return &pathTree{tree: gotree.New(label), dirs: make(map[string]gotree.Tree)}
}

func (t *pathTree) dir(p string) gotree.Tree {
	if p == "." || p == "" {
		return t.tree
	}
	d, ok := t.dirs[p]
	if !ok {
		d = t.dir(path.Dir(p)).Add(path.Base(p))
		t.dirs[p] = d
	}
	return d
}

// Insert adds the leaf of p, prefixed with marker, under its parent directories.
func (t *pathTree) Insert(p, marker string) {
	t.dir(path.Dir(p)).Add(marker + path.Base(p))
}

func (t *pathTree) String() string { return t.tree.Print() }

func updateMarker(r *offsync.UpdateRecord) string {
	switch r.UpdateType {
	case offsync.UpdateAdd:
		return "+ "
	case offsync.UpdateModify:
		return "~ "
	case offsync.UpdateDelete:
		return "- "
	case offsync.UpdateMove:
		return "> "
	}
	return "? "
}

// printRecords lists manifest records, either flat or as a tree per root.
func printRecords(w io.Writer, records []*offsync.UpdateRecord, asTree bool) {
	if !asTree {
		for _, r := range records {
			line := fmt.Sprintf("%-6s %s", r.UpdateType, r.Key())
			if r.UpdateType == offsync.UpdateMove {
				line += "  (from " + r.OldRelativePath + ")"
			}
			if !r.Checked {
				line += "  [unchecked]"
			}
			if r.Message != "" {
				line += "  " + r.Message
			}
			fmt.Fprintln(w, line)
		}
		return
	}

	trees := make(map[string]*pathTree)
	var order []string
	for _, r := range records {
		t, ok := trees[r.TopDirectory]
		if !ok {
			t = newPathTree(r.TopDirectory)
			trees[r.TopDirectory] = t
			order = append(order, r.TopDirectory)
		}
		t.Insert(r.RelativePath, updateMarker(r))
	}
	for _, tag := range order {
		fmt.Fprint(w, trees[tag].String())
	}
}

// printReport writes the end-of-run summary and every issue.
func printReport(w io.Writer, rep *offsync.Report) {
	fmt.Fprintf(w, "%d record(s): %d completed, %d skipped, %d warning(s), %d error(s), %d unchecked, %s transferred\n",
		rep.Total, rep.Completed, rep.Skipped, rep.Warned, rep.Errored, rep.Unchecked, humanize.Bytes(uint64(rep.Bytes)))
	for _, is := range rep.Issues {
		fmt.Fprintf(w, "  %-7s %-6s %s/%s: %s\n", is.Status, is.UpdateType, is.TopDirectory, is.RelativePath, is.Message)
	}
}

// payloadBytes sums the sizes of records that carry a payload.
func payloadBytes(records []*offsync.UpdateRecord) int64 {
	var n int64
	for _, r := range records {
		if r.Checked && r.HasPayload() {
			n += r.Size
		}
	}
	return n
}
