package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var levelColors = map[string]string{
	"panic": "[red]",
	"fatal": "[red]",
	"error": "[red]",
	"warn":  "[yellow]",
	"debug": "[blue]",
	"trace": "[blue]",
}

// fields rendered as part of the line instead of the key=value suffix
var inlineFields = map[string]bool{
	"level":   true,
	"message": true,
	"error":   true,
	"time":    true,
	"chunk":   true,
	"command": true,
	"script":  true,
	"line":    true,
	"col":     true,
}

// ConsoleWriter renders zerolog's JSON events as colored build output
type ConsoleWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func (w *ConsoleWriter) Write(p []byte) (int, error) {
	var event map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(p))
	decoder.UseNumber()
	if err := decoder.Decode(&event); err != nil {
		return 0, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	line := formatEvent(event)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := colorstring.Fprint(w.out, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func formatEvent(event map[string]interface{}) string {
	var b strings.Builder

	level, _ := event["level"].(string)
	color, ok := levelColors[level]
	if !ok {
		color = "[green]"
	}
	b.WriteString(color)

	if script, ok := event["script"].(string); ok {
		fmt.Fprintf(&b, "%s:%v:%v: ", script, event["line"], event["col"])
	}
	if chunk, ok := event["chunk"].(string); ok {
		b.WriteString(chunk + ": ")
	}
	if _, ok := event["command"]; ok {
		b.WriteString("$ ")
	}
	if level == "error" || level == "fatal" {
		b.WriteString("Error: ")
	}

	msg, _ := event["message"].(string)
	for _, field := range []string{"file", "path"} {
		path, ok := event[field].(string)
		if !ok || !filepath.IsAbs(path) {
			continue
		}
		if rel, err := filepath.Rel(".", path); err == nil && !strings.HasPrefix(rel, "..") {
			msg = strings.ReplaceAll(msg, path, rel)
			event[field] = rel
		}
	}
	b.WriteString(msg)

	names := make([]string, 0, len(event))
	for name := range event {
		if !inlineFields[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, " [dark_gray]%s=[reset]%s%v", name, color, event[name])
	}

	if details, ok := event["error"]; ok {
		fmt.Fprintf(&b, "\n%v", details)
	}

	if debugEnabled() {
		b.WriteString("\n")
		for name, value := range event {
			fmt.Fprintf(&b, "  %s: %+v\n", name, value)
		}
	}

	b.WriteString("[reset]\n")
	return b.String()
}

func debugEnabled() bool {
	return os.Getenv("GOPACK_DEBUG") != ""
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debugEnabled())
	}
}
