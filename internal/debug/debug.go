// Package debug provides tag-gated diagnostic logging, out of band from
// normal results. Enable tags via HIVE_DEBUG, e.g.
// HIVE_DEBUG=swarm:events,swarm:messages or HIVE_DEBUG=* for everything.
// Set HIVE_DEBUG_FILE to mirror output to a rotating log file.
package debug

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Debug tags by subsystem.
const (
	TagEvents       = "swarm:events"
	TagMessages     = "swarm:messages"
	TagReservations = "swarm:reservations"
	TagCheckpoints  = "swarm:checkpoints"
	TagImport       = "swarm:import"
)

var (
	mu       sync.Mutex
	tags     map[string]bool
	allTags  bool
	fileSink io.Writer
	loaded   bool
)

func load() {
	if loaded {
		return
	}
	loaded = true
	tags = map[string]bool{}
	for _, tag := range strings.Split(os.Getenv("HIVE_DEBUG"), ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if tag == "*" {
			allTags = true
			continue
		}
		tags[tag] = true
	}
	if path := os.Getenv("HIVE_DEBUG_FILE"); path != "" {
		fileSink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}
	}
}

// Enabled reports whether a tag is switched on.
func Enabled(tag string) bool {
	mu.Lock()
	defer mu.Unlock()
	load()
	return allTags || tags[tag]
}

// Logf writes one tagged diagnostic line to stderr (and the file sink if
// configured) when the tag is enabled. Never fails the caller.
func Logf(tag, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	load()
	if !allTags && !tags[tag] {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", tag, fmt.Sprintf(format, args...))
	fmt.Fprint(os.Stderr, line)
	if fileSink != nil {
		_, _ = io.WriteString(fileSink, line)
	}
}

// setForTest overrides the tag set; tests only.
func setForTest(enabled []string, all bool) {
	mu.Lock()
	defer mu.Unlock()
	loaded = true
	allTags = all
	tags = map[string]bool{}
	for _, tag := range enabled {
		tags[tag] = true
	}
}
