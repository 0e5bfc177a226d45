// Package deepgram provides a Deepgram-backed [stt.Transcriber] using the
// Deepgram live WebSocket API.
//
// Each Transcribe call opens a connection, streams the utterance as raw
// linear16 PCM, sends CloseStream and collects every final result until the
// server closes the connection. The endpointer has already cut the audio, so
// Deepgram's own endpointing and interim results are switched off.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/earwig/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkBytes is the size of one binary message: 250 ms at 16 kHz.
	chunkBytes = 8000
)

var closeStream = []byte(`{"type":"CloseStream"}`)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithSampleRate sets the rate of the PCM passed to Transcribe.
func WithSampleRate(rate int) Option {
	return func(t *Transcriber) {
		t.sampleRate = rate
	}
}

// WithKeywords boosts recognition of the given words. Each entry is passed
// through as a Deepgram keyword, optionally with a boost ("clock:2").
func WithKeywords(keywords ...string) Option {
	return func(t *Transcriber) {
		t.keywords = append(t.keywords, keywords...)
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements [stt.Transcriber] backed by the Deepgram live API.
type Transcriber struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	keywords   []string
}

var _ stt.Transcriber = (*Transcriber)(nil)

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", stt.ErrEmptyAudio
	}

	wsURL, err := t.buildURL()
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	// Results arrive while audio is still being sent; read concurrently so a
	// long utterance cannot fill the server's send buffer.
	type result struct {
		text string
		err  error
	}
	results := make(chan result, 1)
	go func() {
		text, err := readFinals(ctx, conn)
		results <- result{text, err}
	}()

	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, closeStream); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	res := <-results
	if res.err != nil {
		return "", res.err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return res.text, nil
}

// readFinals collects final transcripts until the server closes the stream.
func readFinals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return strings.Join(parts, " "), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}

		text, final, ok := parseDeepgramResponse(msg)
		if !ok || !final || text == "" {
			continue
		}
		parts = append(parts, text)
	}
}

// buildURL constructs the Deepgram endpoint URL.
func (t *Transcriber) buildURL() (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("endpointing", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(t.sampleRate))
	q.Set("channels", "1")
	for _, kw := range t.keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the best alternative of a Results message.
// ok is false for anything that is not a Results message with at least one
// alternative.
func parseDeepgramResponse(data []byte) (text string, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), resp.IsFinal, true
}
