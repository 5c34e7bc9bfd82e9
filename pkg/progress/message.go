// Package progress carries decompiler progress from a worker to the
// orchestrator.
//
// The wire format is line oriented UTF-8: "<channel>\t<text>\n" per message,
// plus the reserved sentinel line that asks the receiving side to flush and
// close every progress channel. There is no acknowledgement; delivery order is
// the only guarantee.
package progress

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentinel is the reserved line meaning "close all progress channels".
const Sentinel = "\x00close-all"

const (
	fieldSep = "\t"
	lineEnd  = "\n"
)

// Message is one progress line.
type Message struct {
	Channel string
	Text    string
}

// Encode returns the wire form of m, newline included. Line breaks are
// flattened to spaces so a message always stays one line; the channel loses
// its tabs as well.
func (m Message) Encode() string {
	return sanitize(m.Channel) + fieldSep + sanitizeLine(m.Text) + lineEnd
}

// Decode parses one wire line without its newline. closeAll is true for the
// sentinel. A line without a channel field is attributed to the empty channel.
func Decode(line string) (msg Message, closeAll bool) {
	line = strings.TrimRight(line, "\r")
	if line == Sentinel {
		return Message{}, true
	}

	channel, text, found := strings.Cut(line, fieldSep)
	if !found {
		return Message{Text: line}, false
	}

	return Message{Channel: channel, Text: text}, false
}

func sanitize(s string) string {
	return strings.ReplaceAll(sanitizeLine(s), fieldSep, " ")
}

func sanitizeLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")

	return strings.ReplaceAll(s, lineEnd, " ")
}

// FormatProgress renders a counter update as "done/total label".
func FormatProgress(done, total int, label string) string {
	text := fmt.Sprintf("%d/%d", done, total)
	if label != "" {
		text += " " + label
	}

	return text
}

// ParseProgress is the inverse of FormatProgress.
func ParseProgress(text string) (done, total int, label string, ok bool) {
	counter, label, _ := strings.Cut(text, " ")

	doneStr, totalStr, found := strings.Cut(counter, "/")
	if !found {
		return 0, 0, "", false
	}

	done, doneErr := strconv.Atoi(doneStr)
	total, totalErr := strconv.Atoi(totalStr)

	if doneErr != nil || totalErr != nil || done < 0 || total <= 0 {
		return 0, 0, "", false
	}

	return done, total, label, true
}
