package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
)

// Browser recorders emit a fragment every few seconds; at ~16 KB/s of
// opus-in-webm that is roughly 80 KB per 5 s fragment.
const (
	defaultChunkSize = 80 * 1024
	defaultInterval  = 5 * time.Second
)

func main() {
	audioFile := flag.String("audio", "testdata/meeting.webm", "Path to a recorded container (webm/ogg)")
	serverURL := flag.String("server", "ws://localhost:8000/ws", "WebSocket endpoint")
	token := flag.String("token", os.Getenv("ACCESS_TOKEN"), "Access token, if the server requires one")
	name := flag.String("name", "Test meeting "+time.Now().Format("150405"), "Meeting name")
	topic := flag.String("topic", "", "Meeting topic")
	participants := flag.String("participants", "", "Participants")
	chunkSize := flag.Int("chunk", defaultChunkSize, "Bytes per fragment")
	interval := flag.Duration("interval", defaultInterval, "Delay between fragments (0 streams as fast as possible)")
	wait := flag.Duration("wait", 30*time.Minute, "How long to wait for the final transcript")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}
	q := u.Query()
	if *token != "" {
		q.Set("token", *token)
	}
	q.Set("meeting_name", *name)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverURL).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("server", *serverURL).Msg("Connected")

	meta, _ := json.Marshal(map[string]string{
		"type":          "metadata",
		"meeting_topic": *topic,
		"participants":  *participants,
	})
	if err := conn.WriteMessage(websocket.TextMessage, meta); err != nil {
		log.Fatal().Err(err).Msg("Failed to send metadata")
	}

	chunk := make([]byte, *chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
				log.Fatal().Err(werr).Int("chunk", chunkNum).Msg("Failed to send fragment")
			}
			chunkNum++
			totalBytes += int64(n)
			if chunkNum%10 == 0 {
				log.Info().Int("chunks", chunkNum).Int64("bytes", totalBytes).Msg("Streaming")
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	log.Info().
		Int("chunks", chunkNum).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(startTime).Round(time.Millisecond)).
		Msg("Finished streaming, waiting for the final transcript")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("STOP")); err != nil {
		log.Fatal().Err(err).Msg("Failed to send stop marker")
	}

	conn.SetReadDeadline(time.Now().Add(*wait))
	var final models.FinalTranscript
	if err := conn.ReadJSON(&final); err != nil {
		log.Fatal().Err(err).Msg("No final transcript received")
	}

	log.Info().
		Str("sessionId", final.SessionID).
		Str("status", final.Status).
		Int("segments", final.Segments).
		Ints("failed", final.FailedSegments).
		Ints("missing", final.MissingSegments).
		Msg("Session finished")
	fmt.Println(final.Text)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
