// campus CLI - command line client for the campus API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/eldtechnologies/campus/clients/go/campus"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CAMPUS_URL")
	client := campus.NewClient(baseURL)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "signup":
		need(args, 3, "campus signup <email> <password> <full name>")
		resp, err := client.Signup(ctx, args[0], args[1], strings.Join(args[2:], " "))
		exitOnError(err)
		fmt.Printf("Account %s created, check %s for the verification code\n", resp.ID, resp.Email)

	case "verify":
		need(args, 2, "campus verify <email> <code>")
		resp, err := client.Verify(ctx, args[0], args[1])
		exitOnError(err)
		fmt.Printf("Verified, signed in until %s\n", resp.ExpiresAt.Local().Format("2006-01-02 15:04"))

	case "login":
		need(args, 2, "campus login <email> <password>")
		resp, err := client.Login(ctx, args[0], args[1])
		exitOnError(err)
		fmt.Printf("Signed in until %s\n", resp.ExpiresAt.Local().Format("2006-01-02 15:04"))

	case "logout":
		exitOnError(client.Logout(ctx))
		fmt.Println("Signed out")

	case "inbox":
		convs, err := client.Conversations(ctx)
		exitOnError(err)
		for _, c := range convs {
			fmt.Printf("  %s  %s\n", c.ID, c.Title())
		}

	case "dm":
		need(args, 1, "campus dm <user_id>")
		conv, err := client.StartDirect(ctx, args[0])
		exitOnError(err)
		fmt.Printf("Conversation: %s\n", conv.ID)

	case "read":
		need(args, 1, "campus read <conversation_id>")
		msgs, err := client.Messages(ctx, args[0])
		exitOnError(err)
		for _, m := range msgs {
			printMessage(m)
		}

	case "send":
		need(args, 2, "campus send <conversation_id> <message>")
		msg, err := client.Send(ctx, args[0], strings.Join(args[1:], " "))
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "watch":
		need(args, 1, "campus watch <conversation_id>")
		watch(ctx, client, args[0])

	case "board":
		need(args, 1, "campus board <kind>")
		rows, err := client.Listings(ctx, args[0])
		exitOnError(err)
		for _, l := range rows {
			printListing(l)
		}

	case "post":
		need(args, 1, "campus post <text>")
		l, err := client.CreateListing(ctx, "post", campus.ListingInput{Body: strings.Join(args, " ")})
		exitOnError(err)
		fmt.Printf("Posted: %s (%s)\n", l.ID, l.Status)

	case "search":
		need(args, 1, "campus search <query>")
		rows, err := client.Search(ctx, strings.Join(args, " "))
		exitOnError(err)
		for _, l := range rows {
			printListing(l)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch streams new messages of one conversation until interrupted.
func watch(ctx context.Context, client *campus.Client, conversationID string) {
	inbox, err := client.Inbox(ctx)
	exitOnError(err)
	defer inbox.Close()

	go func() {
		<-ctx.Done()
		inbox.Close()
	}()

	exitOnError(inbox.Select(conversationID))
	for {
		ev, err := inbox.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			exitOnError(err)
		}
		switch ev.Type {
		case "history":
			for _, m := range ev.Messages {
				printMessage(m)
			}
		case "message":
			if ev.Message != nil {
				printMessage(*ev.Message)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s (%s)\n", ev.Error, ev.Code)
		}
	}
}

func usage() {
	fmt.Println(`campus CLI - university community client

Usage: campus <command> [options]

Commands:
  signup <email> <password> <name>   Create an account
  verify <email> <code>              Confirm the e-mailed code
  login <email> <password>           Sign in
  logout                             Sign out
  inbox                              List conversations
  dm <user_id>                       Open a direct conversation
  read <conversation_id>             Show messages
  send <conversation_id> <message>   Send a message
  watch <conversation_id>            Stream new messages
  board <kind>                       List a board (post, housing, marketplace, ...)
  post <text>                        Publish a feed post
  search <query>                     Search listings
  health                             Check server health

Environment:
  CAMPUS_URL      Server URL (default: http://localhost:8080)
  CAMPUS_CONFIG   Config directory (default: ~/.campus)`)
}

func need(args []string, n int, usageLine string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "Usage:", usageLine)
		os.Exit(1)
	}
}

func printMessage(m campus.Message) {
	from := m.SenderID
	if m.Sender != nil && m.Sender.FullName != "" {
		from = m.Sender.FullName
	} else if len(from) > 8 {
		from = from[:8]
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), from, m.Content)
}

func printListing(l campus.Listing) {
	title := l.Title
	if title == "" {
		title = l.Body
		if r := []rune(title); len(r) > 60 {
			title = string(r[:60]) + "..."
		}
	}
	fmt.Printf("  %s  [%s] %s\n", l.ID, l.Kind, title)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
