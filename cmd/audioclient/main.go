// Command audioclient plays a WAV file into the relay the way the telephony
// provider streams a live call: connected, start, 20ms μ-law media frames, stop.
package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ai-fraud-guard/internal/companion/controlclient"
	"ai-fraud-guard/internal/protocol"
	"ai-fraud-guard/internal/service/g711"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// The provider sends 20ms of 8kHz μ-law per frame: 160 samples, 320 PCM bytes.
const (
	pcmChunkSize    = 320
	chunkIntervalMs = 20
)

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.wav", "Path to WAV file (8kHz 16-bit mono)")
	relayURL := flag.String("relay", "ws://localhost:3000/", "Relay websocket URL")
	callSid := flag.String("call", "CA"+uuid.NewString()[:8], "Call SID announced in the start frame")
	asApp := flag.Bool("app", true, "Also connect as the companion app and print control events")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 || bitsPerSample != 16 { // PCM
		log.Fatal("Only 16-bit PCM format supported")
	}
	if sampleRate != 8000 || numChannels != 1 {
		log.Printf("Warning: expected 8000 Hz mono, got %d Hz %d channels", sampleRate, numChannels)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *asApp {
		app, err := controlclient.Dial(ctx, *relayURL, func(ev protocol.ControlEvent) {
			log.Printf("Control event: type=%s reason=%q", ev.Type, ev.Reason)
		})
		if err != nil {
			log.Fatalf("Failed to connect as companion app: %v", err)
		}
		defer app.Close()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *relayURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *relayURL)

	streamSid := "MZ" + uuid.NewString()[:8]
	send := func(v any) {
		if err := conn.WriteJSON(v); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
	}

	send(protocol.Envelope{Event: protocol.EventConnected})
	send(protocol.Envelope{
		Event:     protocol.EventStart,
		StreamSid: streamSid,
		Start: &protocol.StartPayload{
			CallSid:   *callSid,
			StreamSid: streamSid,
			Tracks:    []string{"inbound"},
			MediaFormat: &protocol.MediaFormat{
				Encoding:   "audio/x-mulaw",
				SampleRate: 8000,
				Channels:   1,
			},
		},
	})
	log.Printf("Streaming audio: callSid=%s streamSid=%s", *callSid, streamSid)

	pcm := make([]byte, pcmChunkSize)
	ticker := time.NewTicker(chunkIntervalMs * time.Millisecond)
	defer ticker.Stop()

	var chunkNum int
	startTime := time.Now()
	for {
		n, err := io.ReadFull(f, pcm)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		send(protocol.Envelope{
			Event:          protocol.EventMedia,
			SequenceNumber: strconv.Itoa(chunkNum + 1),
			StreamSid:      streamSid,
			Media: &protocol.MediaPayload{
				Track:     "inbound",
				Chunk:     strconv.Itoa(chunkNum),
				Timestamp: strconv.Itoa(chunkNum * chunkIntervalMs),
				Payload:   base64.StdEncoding.EncodeToString(g711.Encode(pcm[:n])),
			},
		})

		if chunkNum%50 == 0 {
			log.Printf("Sent %d frames (%.1fs of audio)", chunkNum, float64(chunkNum*chunkIntervalMs)/1000)
		}

		select {
		case <-ctx.Done():
			log.Printf("Interrupted")
			return
		case <-ticker.C:
		}
	}

	send(protocol.Envelope{Event: protocol.EventStop, StreamSid: streamSid, Stop: &protocol.StopPayload{CallSid: *callSid}})
	log.Printf("Finished streaming %d frames in %v", chunkNum, time.Since(startTime).Round(time.Millisecond))

	// Give in-flight scoring a moment to alert the app.
	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
