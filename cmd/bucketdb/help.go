package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// commands lists every shell command with its one-line description.
// The help printer wraps descriptions to the terminal width.
var commands = []struct {
	usage string
	desc  string
}{
	{"store KEY VALUE", "insert a new pair; fails if the key exists"},
	{"replace KEY VALUE", "insert or overwrite a pair"},
	{"fetch KEY", "print the value stored under KEY"},
	{"exists KEY", "print whether KEY is present"},
	{"delete KEY", "remove KEY and its value"},
	{"first", "print the first key in scan order"},
	{"next KEY", "print the key following KEY in scan order"},
	{"list", "print every key/value pair"},
	{"count", "print the number of live keys"},
	{"sync", "flush dirty state and make it durable"},
	{"reorganize", "rewrite the database compactly and swap it in"},
	{"snapshot EVEN ODD", "arm crash-tolerant snapshots over two reflink files"},
	{"latest EVEN ODD", "pick which snapshot to recover from after a crash"},
	{"recover [backup] [force]", "rebuild a consistent database from a damaged one"},
	{"convert standard|numsync", "switch the header format"},
	{"status", "print database path, format, and key count"},
	{"cache", "print bucket cache statistics"},
	{"avail", "verify the free-space tables"},
	{"help", "print this help"},
	{"quit", "leave the shell"},
}

// commandHelp renders the command table, wrapping the description
// column to the terminal width so long lines stay readable.
func commandHelp() string {
	usageWidth := 0
	for _, c := range commands {
		if w := runewidth.StringWidth(c.usage); w > usageWidth {
			usageWidth = w
		}
	}

	total := terminalWidth()
	descWidth := total - usageWidth - 4

	if descWidth < 20 {
		descWidth = 20
	}

	var b strings.Builder

	b.WriteString("Commands:\n")

	for _, c := range commands {
		lines := wrapText(c.desc, descWidth)

		b.WriteString("  ")
		b.WriteString(runewidth.FillRight(c.usage, usageWidth))
		b.WriteString("  ")
		b.WriteString(lines[0])
		b.WriteByte('\n')

		for _, l := range lines[1:] {
			b.WriteString(strings.Repeat(" ", usageWidth+4))
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// wrapText greedily wraps words to the given display width.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var (
		lines []string
		cur   strings.Builder
		curW  int
	)

	for _, word := range words {
		w := runewidth.StringWidth(word)

		if curW > 0 && curW+1+w > width {
			lines = append(lines, cur.String())
			cur.Reset()
			curW = 0
		}

		if curW > 0 {
			cur.WriteByte(' ')
			curW++
		}

		cur.WriteString(word)
		curW += w
	}

	lines = append(lines, cur.String())

	return lines
}

// terminalWidth reads $COLUMNS and falls back to 80.
func terminalWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n >= 40 {
			return n
		}
	}

	return 80
}
