// Терминальный клиент комнаты: вход/регистрация, живая лента, отправка
// текста и изображений, удаление своих сообщений.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"

	"github.com/roomchat/client"
	"github.com/roomchat/internal/logger"
)

const maxAttachmentSize = 5 << 20

func main() {
	logger.SetPrefix("cli")
	server := flag.String("server", envStr("ROOMCHAT_SERVER", "http://localhost:8080"), "API server URL")
	flag.Parse()

	api := client.New(*server)
	session := client.NewSession(api)

	// Сохранённая сессия — аналог «запомнить меня»: восстанавливается до экрана входа.
	if creds := loadSavedCredentials(); creds != nil {
		if err := api.SetCredentials(creds); err != nil {
			color.Yellow.Println("saved session is corrupt, signing in again")
		}
	}

	ctx := context.Background()
	session.Resolve(ctx)

	route := client.RouteEntry
	stdin := bufio.NewScanner(os.Stdin)
	stdin.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		switch client.Decide(session.InitialLoadComplete(), session.SignedIn(), route) {
		case client.DecisionWait:
			<-session.InitialLoadDone()
		case client.DecisionRedirectToRoom:
			route = client.RouteRoom
		case client.DecisionRedirectToEntry:
			route = client.RouteEntry
		case client.DecisionRender:
			if route == client.RouteEntry {
				if !entryScreen(ctx, api, session, stdin) {
					return
				}
			} else {
				if !roomScreen(ctx, api, session, stdin) {
					return
				}
			}
		}
	}
}

// entryScreen — вход или регистрация. false — пользователь попросил выход.
func entryScreen(ctx context.Context, api *client.Client, session *client.Session, stdin *bufio.Scanner) bool {
	color.Cyan.Println("== roomchat ==")
	fmt.Println("1) sign in  2) sign up  3) quit")
	choice := prompt(stdin, "> ")

	switch choice {
	case "1":
		email := prompt(stdin, "email: ")
		password := prompt(stdin, "password: ")
		if err := session.SignIn(ctx, email, password); err != nil {
			color.Red.Printf("sign in failed: %s\n", apiMessage(err))
			return true
		}
	case "2":
		email := prompt(stdin, "email: ")
		password := prompt(stdin, "password (min 6 chars): ")
		name := prompt(stdin, "display name (optional): ")
		if err := session.SignUp(ctx, email, password, name); err != nil {
			color.Red.Printf("sign up failed: %s\n", apiMessage(err))
			return true
		}
	case "3", "":
		return false
	default:
		return true
	}

	saveCredentials(api)
	color.Green.Printf("welcome, %s\n", session.DisplayName())
	return true
}

// roomScreen — комната: подписка, лента, композер. false — выход из программы.
func roomScreen(ctx context.Context, api *client.Client, session *client.Session, stdin *bufio.Scanner) bool {
	sub, err := api.Subscribe(ctx)
	if err != nil {
		color.Red.Printf("connect failed: %s\n", apiMessage(err))
		time.Sleep(2 * time.Second)
		return true
	}
	defer sub.Close()

	feed := client.NewFeed()
	composer := client.NewComposer(api, maxAttachmentSize)
	uid := session.User().UID

	go feed.Run(sub, func() { redraw(feed, uid) })

	color.Cyan.Println("== global chat ==  (/image <path>, /delete <n>, /logout, /quit)")

	for {
		if feed.Ended() {
			if err := feed.Err(); err != nil {
				color.Red.Printf("connection lost: %v\n", err)
			}
			return true
		}
		line, ok := readLine(stdin)
		if !ok {
			return false
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "/quit":
			return false
		case line == "/logout":
			if err := session.SignOut(ctx); err != nil {
				color.Yellow.Printf("sign out: %s\n", apiMessage(err))
			}
			clearSavedCredentials()
			return true
		case strings.HasPrefix(line, "/delete "):
			handleDelete(sub, feed, uid, strings.TrimPrefix(line, "/delete "))
		case strings.HasPrefix(line, "/image "):
			handleImage(ctx, composer, sub, strings.TrimPrefix(line, "/image "))
		case line != "":
			composer.SetDraft(line)
			if err := composer.Submit(sub.SendMessage); err != nil {
				color.Red.Printf("send failed: %v\n", err)
			}
		}
	}
}

// handleDelete удаляет n-е сообщение ленты (только своё).
func handleDelete(sub *client.Subscription, feed *client.Feed, uid, arg string) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	messages := feed.Messages()
	if err != nil || n < 1 || n > len(messages) {
		color.Yellow.Println("usage: /delete <message number>")
		return
	}
	target := messages[n-1]
	view := client.RenderMessage(target, uid, time.Now())
	if !view.CanDelete {
		color.Yellow.Println("you can only delete your own messages")
		return
	}
	fmt.Printf("delete %q? [y/N] ", truncate(target.Text, 40))
	var confirm string
	fmt.Scanln(&confirm)
	if !strings.EqualFold(confirm, "y") {
		return
	}
	if err := sub.DeleteMessage(target.ID); err != nil {
		color.Red.Printf("delete failed: %v\n", err)
	}
}

// handleImage загружает файл и отправляет сообщение со ссылкой (плюс черновик текста, если был).
func handleImage(ctx context.Context, composer *client.Composer, sub *client.Subscription, path string) {
	path = strings.TrimSpace(path)
	f, err := os.Open(path)
	if err != nil {
		color.Red.Printf("open %s: %v\n", path, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		color.Red.Printf("stat %s: %v\n", path, err)
		return
	}

	if err := composer.AttachImage(ctx, filepath.Base(path), info.Size(), f); err != nil {
		color.Red.Printf("upload failed: %v\n", err)
		return
	}
	if err := composer.Submit(sub.SendMessage); err != nil {
		color.Red.Printf("send failed: %v\n", err)
	}
}

func redraw(feed *client.Feed, uid string) {
	if feed.Loading() {
		color.Gray.Println("loading messages...")
		return
	}
	fmt.Print("\033[2J\033[H")
	now := time.Now()
	for i, m := range feed.Messages() {
		v := client.RenderMessage(m, uid, now)
		prefix := fmt.Sprintf("%3d [%s] %s (%s)", i+1, v.Initials, v.SenderName, v.Timestamp)
		if v.Own {
			color.Green.Print(prefix)
		} else {
			color.Blue.Print(prefix)
		}
		if v.Text != "" {
			fmt.Printf(": %s", v.Text)
		}
		if v.ImageURL != "" {
			color.Magenta.Printf(" [image: %s]", v.ImageURL)
		}
		fmt.Println()
	}
	fmt.Print("> ")
}

func prompt(stdin *bufio.Scanner, label string) string {
	fmt.Print(label)
	line, _ := readLine(stdin)
	return strings.TrimSpace(line)
}

func readLine(stdin *bufio.Scanner) (string, bool) {
	if !stdin.Scan() {
		return "", false
	}
	return stdin.Text(), true
}

func apiMessage(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// --- Сохранение сессии между запусками ---

func credentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "roomchat", "session.json")
}

func loadSavedCredentials() *client.Credentials {
	data, err := os.ReadFile(credentialsPath())
	if err != nil {
		return nil
	}
	var creds client.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil
	}
	return &creds
}

func saveCredentials(api *client.Client) {
	creds := api.Credentials()
	if creds == nil {
		return
	}
	path := credentialsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		color.Yellow.Printf("could not save session: %v\n", err)
	}
}

func clearSavedCredentials() {
	os.Remove(credentialsPath())
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
