// seed 建立一組對話與閱後即焚訊息，供本地測試觀看流程.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/platform/logger"
	"snap-gateway/internal/platform/server"
	"snap-gateway/internal/snap"
	"snap-gateway/internal/storage/database"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func mainNoExit() error {
	sender := flag.String("sender", "user_alice", "寄件者 ID")
	recipients := flag.String("recipients", "user_bob", "收件者 ID，以逗號分隔")
	duration := flag.Int("duration", 5, "觀看秒數")
	replays := flag.Int("replays", 1, "重播次數上限")
	ttl := flag.Duration("ttl", 24*time.Hour, "訊息有效期，0 表示不過期")
	flag.Parse()

	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()
	closeDrivers, _, err := server.ConnectDrivers(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDrivers()

	repos, err := database.NewRepositories(ctx, cfg)
	if err != nil {
		return err
	}

	members := []string{*sender}
	for _, id := range strings.Split(*recipients, ",") {
		if id = strings.TrimSpace(id); id != "" {
			members = append(members, id)
		}
	}

	now := time.Now().UTC()
	conv := &snap.Conversation{
		ID:        database.NewObjectID(),
		MemberIDs: members,
		CreatedAt: now,
	}
	if err := repos.Conversations.CreateConversation(ctx, conv); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	msg := &snap.Message{
		ID:              database.NewObjectID(),
		ConversationID:  conv.ID,
		SenderID:        *sender,
		Kind:            snap.KindSnap,
		ViewingDuration: *duration,
		MaxReplays:      *replays,
		CreatedAt:       now,
	}
	if *ttl > 0 {
		expiresAt := now.Add(*ttl)
		msg.ExpiresAt = &expiresAt
	}
	if err := msg.Validate(server.PolicyFromConfig(cfg.Snap).Bounds); err != nil {
		return err
	}
	if err := repos.Messages.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	fmt.Printf("conversation_id=%s\n", conv.ID)
	fmt.Printf("message_id=%s\n", msg.ID)
	return nil
}
