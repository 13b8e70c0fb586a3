// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Admin is a user allowed to manage codes, channels and other admins.
type Admin struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Channel is a mandatory channel a user must join before receiving content.
type Channel struct {
	ID        int64
	Name      string
	Username  string
	CreatedAt time.Time
}

// JoinURL returns the public t.me link of the channel, or "" when the
// channel has no known username.
func (c Channel) JoinURL() string {
	if c.Username == "" {
		return ""
	}
	return "https://t.me/" + c.Username
}

// Code maps a case-insensitive code string to posts of the source channel.
type Code struct {
	ID        int64
	Code      string
	PostIDs   []int
	CreatedAt time.Time
}

// CodeKey normalizes a code for case-insensitive lookup.
func CodeKey(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// PostLink builds a private t.me/c link to a post of the given channel.
// Channel IDs of supergroups and channels carry a -100 prefix that the
// link format omits.
func PostLink(channelID int64, postID int) string {
	id := strconv.FormatInt(channelID, 10)
	id = strings.TrimPrefix(id, "-100")
	id = strings.TrimPrefix(id, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, postID)
}

// User is anyone who has interacted with the bot.
type User struct {
	ID           int64
	FullName     string
	Username     string
	Phone        string
	FirstSeen    time.Time
	LastActivity time.Time
}

// Subscription records the outcome of the last full membership check.
// It is kept for statistics only and is never used to skip a check.
type Subscription struct {
	UserID     int64
	Subscribed bool
	CheckedAt  time.Time
}

// Stats summarizes usage of the bot.
type Stats struct {
	Users       int
	ActiveToday int
	Subscribed  int
	Codes       int
	Channels    int
	Admins      int
}
