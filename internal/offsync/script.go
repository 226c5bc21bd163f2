package offsync

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	shellScriptName = "CopyToHere.sh"
	batchScriptName = "CopyToHere.bat"
)

// writeScripts emits copy scripts that fill the patch directory when run from it, for
// users who move payloads with their own tools.
func (w *PatchWriter) writeScripts(records []*UpdateRecord, local map[string]string) error {
	var sh, bat bytes.Buffer
	sh.WriteString("#!/bin/sh\ncd \"$(dirname \"$0\")\" || exit 1\n")
	bat.WriteString("@echo off\r\ncd /d \"%~dp0\"\r\n")

	for _, r := range records {
		root, ok := local[r.TopDirectory]
		if !ok {
			r.Fail(fmt.Errorf("%w: %s", ErrUnknownRoot, r.TopDirectory))
			continue
		}
		src, err := ResolveTarget(root, r.RelativePath)
		if err != nil {
			r.Fail(err)
			continue
		}
		fmt.Fprintf(&sh, "if [ -e %s ]; then echo %s; else cp -p %s %s || echo %s; fi\n",
			shellQuote(r.TempName),
			shellQuote("exists: "+r.Key()),
			shellQuote(src), shellQuote(r.TempName),
			shellQuote("failed: "+r.Key()))
		fmt.Fprintf(&bat, "if exist \"%s\" (echo exists: %s) else (copy /y \"%s\" \"%s\" >nul || echo failed: %s)\r\n",
			r.TempName, r.TempName, batchEscape(src), r.TempName, r.TempName)
	}

	if err := afero.WriteFile(w.fs, filepath.Join(w.opts.PatchDir, shellScriptName), sh.Bytes(), 0o755); err != nil {
		return fmt.Errorf("writing %s: %w", shellScriptName, err)
	}
	if err := afero.WriteFile(w.fs, filepath.Join(w.opts.PatchDir, batchScriptName), bat.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", batchScriptName, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func batchEscape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}
