package bot

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"kino_bot/internal/model"
)

const timeFormat = "2006-01-02 15:04 UTC"

// FormatCodeList formats all codes with links to their posts in the source channel.
func FormatCodeList(codes []model.Code, sourceChannelID int64) string {
	if len(codes) == 0 {
		return "No codes yet. Use /addcode <code> <post_id> to add one."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Codes (%d):\n", len(codes))
	for _, c := range codes {
		fmt.Fprintf(&b, "\n%s  (%d post", c.Code, len(c.PostIDs))
		if len(c.PostIDs) != 1 {
			b.WriteString("s")
		}
		b.WriteString(")\n")
		for _, id := range c.PostIDs {
			fmt.Fprintf(&b, "   %s\n", model.PostLink(sourceChannelID, id))
		}
	}
	return b.String()
}

// FormatChannelList formats the mandatory channels in check order.
func FormatChannelList(channels []model.Channel) string {
	if len(channels) == 0 {
		return "No mandatory channels. Every user gets access without a subscription check."
	}
	var b strings.Builder
	b.WriteString("Mandatory channels:\n")
	for i, ch := range channels {
		fmt.Fprintf(&b, "\n%d. %s\n   ID: %d\n", i+1, ch.Name, ch.ID)
		if ch.Username != "" {
			fmt.Fprintf(&b, "   @%s\n", ch.Username)
		} else {
			b.WriteString("   no public username\n")
		}
	}
	return b.String()
}

// FormatAdminList formats the admins, marking the primary one.
func FormatAdminList(admins []model.Admin, primaryID int64) string {
	if len(admins) == 0 {
		return "No admins."
	}
	var b strings.Builder
	b.WriteString("Admins:\n")
	for i, a := range admins {
		fmt.Fprintf(&b, "\n%d. %d", i+1, a.ID)
		if a.Username != "" {
			fmt.Fprintf(&b, " @%s", a.Username)
		}
		if a.ID == primaryID {
			b.WriteString(" (primary)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatStats formats usage statistics.
func FormatStats(s *model.Stats) string {
	var b strings.Builder
	b.WriteString("Statistics:\n\n")
	fmt.Fprintf(&b, "Users: %d\n", s.Users)
	fmt.Fprintf(&b, "Active in last 24h: %d\n", s.ActiveToday)
	fmt.Fprintf(&b, "Subscribed: %d\n", s.Subscribed)
	fmt.Fprintf(&b, "Codes: %d\n", s.Codes)
	fmt.Fprintf(&b, "Channels: %d\n", s.Channels)
	fmt.Fprintf(&b, "Admins: %d\n", s.Admins)
	return b.String()
}

// FormatMissingChannels lists channels the user still has to join.
func FormatMissingChannels(missing []model.Channel) string {
	var b strings.Builder
	b.WriteString("To get access, subscribe to these channels:\n")
	for i, ch := range missing {
		fmt.Fprintf(&b, "\n%d. %s", i+1, ch.Name)
	}
	b.WriteString("\n\nThen press \"I've subscribed\".")
	return b.String()
}

// UsersCSV renders users as a CSV document with a header row.
func UsersCSV(users []model.User) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"id", "full_name", "username", "phone", "first_seen", "last_activity"}}
	for _, u := range users {
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10),
			u.FullName,
			u.Username,
			u.Phone,
			u.FirstSeen.UTC().Format(timeFormat),
			u.LastActivity.UTC().Format(timeFormat),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
