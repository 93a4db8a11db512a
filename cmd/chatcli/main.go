// Command chatcli is a terminal client for the conversation gateway.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/piyush97/resonance/widget"
)

func main() {
	apiBase := flag.String("api", "http://localhost:3001", "Gateway base URL")
	assistantID := flag.String("assistant", "default", "Assistant ID")
	visitorID := flag.String("visitor", "cli", "Visitor ID")
	flag.Parse()

	log.SetFlags(log.Ltime)

	client := widget.NewClient(*apiBase, *assistantID)
	defer client.Close()

	ctx := context.Background()

	fmt.Printf("Connecting to %s...\n", *apiBase)
	if err := client.Start(ctx, *visitorID); err != nil {
		log.Fatalf("Failed to start conversation: %v", err)
	}

	fmt.Printf("Conversation: %s (transport: %s)\n", client.ConversationID(), client.State())
	fmt.Println("Type a message and press Enter to send. /quit to exit.")
	fmt.Println()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}
			if input == "/quit" {
				fmt.Println("Bye!")
				return
			}

			answer, sources, err := client.Send(ctx, input)
			if err != nil {
				log.Printf("Send error: %v", err)
				continue
			}

			fmt.Printf("\nAssistant: %s\n", answer)
			for _, src := range widget.TopSources(sources, 3) {
				fmt.Printf("  [%.2f] %s\n", src.Score, src.Source)
			}
			fmt.Println()
		}
	}
}
