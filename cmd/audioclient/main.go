// Command audioclient plays a recorded file through the intake API the way
// the browser recorder does: it opens an encounter, records consent, streams
// the file over the capture WebSocket in timed chunks and stops.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Browser recorders emit a chunk per timeslice; 16 KiB per 250 ms is close to
// what a 128 kbit/s webm/opus stream produces.
const (
	defaultChunkSize = 16 * 1024
	defaultInterval  = 250 * time.Millisecond
)

func main() {
	audioFile := flag.String("audio", "testdata/sample.webm", "Path to the recording to stream")
	server := flag.String("server", "http://localhost:8080", "Intake API base URL")
	sessionID := flag.String("session", "demo-"+time.Now().Format("150405"), "Session ID")
	token := flag.String("token", os.Getenv("INTAKE_TOKEN"), "Bearer token")
	language := flag.String("language", "fr", "Display language (fr or en)")
	anonymous := flag.Bool("anonymous", false, "Record anonymous consent")
	chunkSize := flag.Int("chunk", defaultChunkSize, "Bytes per fragment")
	interval := flag.Duration("interval", defaultInterval, "Delay between fragments")
	submit := flag.Bool("submit", false, "Submit the suggested billing codes after transcription")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if *token == "" {
		log.Fatal().Msg("A bearer token is required (-token or INTAKE_TOKEN)")
	}

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	api := &client{base: strings.TrimRight(*server, "/"), token: *token}

	if err := api.call(http.MethodPost, "/v1/encounters", map[string]string{
		"session_id": *sessionID,
		"language":   *language,
	}, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to open encounter")
	}
	encounter := "/v1/encounters/" + *sessionID
	if err := api.call(http.MethodPost, encounter+"/consent", map[string]bool{"anonymous": *anonymous}, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to record consent")
	}

	wsURL := "ws" + strings.TrimPrefix(api.base, "http") + encounter + "/capture"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer " + api.token}})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open capture socket")
	}
	defer conn.Close()

	log.Info().Str("session", *sessionID).Str("file", *audioFile).Msg("Streaming recording")

	chunk := make([]byte, *chunkSize)
	var totalBytes int64
	var chunks int
	start := time.Now()

	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
			log.Fatal().Err(err).Msg("Failed to send fragment")
		}
		chunks++
		totalBytes += int64(n)
		if chunks%10 == 0 {
			log.Info().Int("chunks", chunks).Int64("bytes", totalBytes).Msg("Streaming")
		}
		time.Sleep(*interval)
	}

	log.Info().Int("chunks", chunks).Int64("bytes", totalBytes).Dur("elapsed", time.Since(start)).
		Msg("Finished streaming, waiting for transcription")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		log.Fatal().Err(err).Msg("Failed to send stop")
	}

	var result struct {
		Snapshot json.RawMessage `json:"snapshot"`
		Error    *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := conn.ReadJSON(&result); err != nil {
		log.Fatal().Err(err).Msg("Failed to read capture result")
	}
	if result.Error != nil {
		log.Error().Str("code", result.Error.Code).Msg(result.Error.Message)
	}
	printJSON(result.Snapshot)

	if *submit && result.Error == nil {
		var snap json.RawMessage
		if err := api.call(http.MethodPost, encounter+"/billing/submit", nil, &snap); err != nil {
			log.Fatal().Err(err).Msg("Billing submission failed")
		}
		printJSON(snap)
	}
}

type client struct {
	base  string
	token string
	http  http.Client
}

func (c *client) call(method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}
