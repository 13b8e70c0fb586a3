package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kino_bot/internal/subscription"
)

// platform adapts the Telegram API to the membership oracle and copier
// interfaces of the subscription and delivery packages.
type platform struct {
	api telegramAPI
}

// Membership reports the status of userID in channelID.
func (p *platform) Membership(ctx context.Context, channelID, userID int64) (subscription.Member, error) {
	if err := ctx.Err(); err != nil {
		return subscription.Member{}, err
	}
	m, err := p.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: channelID, UserID: userID},
	})
	if err != nil {
		return subscription.Member{}, fmt.Errorf("get chat member: %w", err)
	}
	return subscription.Member{Status: m.Status, IsMember: m.IsMember}, nil
}

// CopyProtected copies a message without a notification and with content
// protection, so the recipient cannot forward or save it.
func (p *platform) CopyProtected(ctx context.Context, chatID, fromChatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("from_chat_id", fromChatID)
	params.AddNonZero("message_id", messageID)
	params.AddBool("disable_notification", true)
	params.AddBool("protect_content", true)

	if _, err := p.api.MakeRequest("copyMessage", params); err != nil {
		return fmt.Errorf("copy message %d: %w", messageID, err)
	}
	return nil
}

// ChatUsername returns the public username of a chat, or "" when it has none.
func (p *platform) ChatUsername(ctx context.Context, chatID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chat, err := p.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", fmt.Errorf("get chat: %w", err)
	}
	return chat.UserName, nil
}
