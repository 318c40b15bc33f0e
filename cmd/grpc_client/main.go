// grpc_client 以收件者身分透過 gRPC 觀看一則閱後即焚訊息.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"snap-gateway/internal/grpcclient"
	"snap-gateway/internal/platform/config"
	"snap-gateway/internal/viewer"
)

// printer 將狀態變化輸出到終端，並轉給主迴圈決定下一步.
type printer struct {
	transitions chan viewer.Transition
}

func (p *printer) OnTransition(t viewer.Transition) {
	if t.Reason != "" {
		fmt.Printf("[%s -> %s] reason=%s\n", t.From, t.To, t.Reason)
	} else {
		fmt.Printf("[%s -> %s]\n", t.From, t.To)
	}
	p.transitions <- t
}

func (p *printer) OnNotice(text string) {
	fmt.Printf("  ! %s\n", text)
}

func main() {
	addr := flag.String("addr", "localhost:8081", "gRPC 伺服器位址")
	userID := flag.String("user", "user_bob", "觀看者 ID（未提供 token 時使用）")
	token := flag.String("token", "", "JWT token")
	messageID := flag.String("message", "", "訊息 ID")
	replays := flag.Int("replays", 1, "要使用的重播次數")
	screenshot := flag.Bool("screenshot", false, "首次觀看時模擬截圖")
	flag.Parse()

	if *messageID == "" {
		log.Fatal("-message 為必填")
	}

	conn, err := grpcclient.Dial(*addr, config.TLSConfig{})
	if err != nil {
		log.Fatalf("連接失敗: %v", err)
	}
	defer conn.Close()

	client := grpcclient.New(conn, grpcclient.Credentials{UserID: *userID, Token: *token})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pre, err := client.CanView(ctx, *messageID)
	if err != nil {
		log.Fatalf("預檢失敗: %v", err)
	}
	fmt.Printf("can_view=%v first_view=%v replay_count=%d/%d duration=%ds\n",
		pre.CanView, pre.IsFirstView, pre.ReplayCount, pre.MaxReplays, pre.ViewingDuration)

	p := &printer{transitions: make(chan viewer.Transition, 32)}
	session, err := viewer.Open(ctx, viewer.Config{
		MessageID:     *messageID,
		Authorizer:    client,
		Reporter:      client,
		Listener:      p,
		ReplayEnabled: *replays > 0,
	})
	if err != nil {
		log.Fatalf("建立觀看工作階段失敗: %v", err)
	}

	session.ContentReady()
	used := 0
	for {
		select {
		case <-session.Done():
			session.WaitReports()
			fmt.Printf("結束: state=%s replay_count=%d\n", session.State(), session.Decision().ReplayCount)
			return
		case t := <-p.transitions:
			switch t.To {
			case viewer.StateAwaitingStart:
				session.Start()
			case viewer.StateViewing:
				fmt.Printf("  觀看中，剩餘 %s\n", session.Remaining())
				if *screenshot && used == 0 {
					session.ScreenshotDetected()
				}
			case viewer.StateReplayOffered:
				if used < *replays {
					used++
					session.RequestReplay()
				} else {
					session.Close()
				}
			}
		}
	}
}
