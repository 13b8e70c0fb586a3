package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseCodeArgs parses arguments for /addcode and /editcode.
// Format: <code> <post_id> [post_id...], post IDs separated by spaces or commas.
func ParseCodeArgs(args string) (string, []int, error) {
	parts := strings.FieldsFunc(args, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("usage: <code> <post_id> [post_id...]")
	}

	code := parts[0]
	postIDs := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		id, err := strconv.Atoi(p)
		if err != nil || id <= 0 {
			return "", nil, fmt.Errorf("invalid post ID %q", p)
		}
		postIDs = append(postIDs, id)
	}
	return code, postIDs, nil
}

// ParseCodeName extracts a single code from command arguments.
func ParseCodeName(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) != 1 {
		return "", fmt.Errorf("usage: <code>")
	}
	return parts[0], nil
}

// ParseChatID parses a numeric user or channel ID.
func ParseChatID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseChannelInput parses a channel definition.
// Format: <channel_id>|<name> or <channel_id> <name>.
func ParseChannelInput(s string) (int64, string, error) {
	s = strings.TrimSpace(s)
	var idPart, name string
	if i := strings.Index(s, "|"); i >= 0 {
		idPart, name = s[:i], s[i+1:]
	} else {
		idPart, name, _ = strings.Cut(s, " ")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return 0, "", fmt.Errorf("usage: <channel_id>|<name>")
	}
	id, err := ParseChatID(idPart)
	if err != nil {
		return 0, "", err
	}
	return id, name, nil
}

// SplitMessage breaks text into chunks of at most limit bytes, preferring
// line boundaries. Chunks never split a UTF-8 sequence.
func SplitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimRight(cur.String(), "\n"); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if cur.Len()+len(line) > limit {
			flush()
		}
		for len(line) > limit {
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}
