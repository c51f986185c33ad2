// Dev client: subscribes to the relay for one meeting and prints the
// transcript fragments as they arrive.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"recording-ingress-service/internal/models"
)

func main() {
	relayURL := flag.String("relay", "ws://localhost:4000/ws", "relay websocket endpoint")
	externalID := flag.String("meeting", "", "external id of the meeting to follow")
	flag.Parse()

	if *externalID == "" {
		log.Fatal("usage: wsclient -meeting <externalId> [-relay ws://host:port/ws]")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*relayURL+"?externalId="+*externalID, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected, following %s", *externalID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg models.RelayMessage
			if err := conn.ReadJSON(&msg); err != nil {
				log.Printf("read failed: %v", err)
				return
			}
			log.Printf("[%s] %s: %s", msg.Payload.Timestamp.Format(time.RFC3339), msg.Payload.Speaker, msg.Payload.Text)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	select {
	case <-sig:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-done:
	}
}
