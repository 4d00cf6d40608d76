package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/logger"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
	readSize   = 4096
)

type deltaFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder turns a text/event-stream body into whole content deltas.
// Bytes after the last newline stay buffered until the next read completes the line.
// A data line whose JSON does not parse is held and retried joined with the line
// that follows it.
type Decoder struct {
	r       io.Reader
	buf     []byte
	held    string
	ready   []string
	done    bool
	scratch []byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, scratch: make([]byte, readSize)}
}

// Next returns the next non-empty delta. It returns io.EOF once `data: [DONE]` was
// seen or the body ended, and ctx.Err() when ctx is cancelled between reads.
func (d *Decoder) Next(ctx context.Context) (string, error) {
	for {
		if len(d.ready) > 0 {
			delta := d.ready[0]
			d.ready = d.ready[1:]
			return delta, nil
		}
		if d.done {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := d.r.Read(d.scratch)
		if n > 0 {
			d.buf = append(d.buf, d.scratch[:n]...)
			d.drainLines()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(d.buf) > 0 && !d.done {
				rest := string(d.buf)
				d.buf = nil
				d.handleLine(rest)
			}
			d.dropHeld("stream ended")
			d.done = true
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
}

func (d *Decoder) drainLines() {
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		d.handleLine(line)
	}
}

func (d *Decoder) handleLine(raw string) {
	line := strings.TrimSpace(raw)

	if d.held != "" {
		if line == "" || strings.HasPrefix(line, ":") {
			return
		}
		joined := d.held + line
		d.held = ""
		if content, ok := parseDelta(joined); ok {
			d.emit(content)
			return
		}
		logger.Warn("dropping unparseable stream line", zap.String("line", joined))
	}

	if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, dataPrefix) {
		return
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == doneMarker {
		d.done = true
		d.buf = nil
		return
	}
	content, ok := parseDelta(payload)
	if !ok {
		d.held = payload
		return
	}
	d.emit(content)
}

func (d *Decoder) dropHeld(reason string) {
	if d.held == "" {
		return
	}
	logger.Warn("dropping unparseable stream line", zap.String("line", d.held), zap.String("reason", reason))
	d.held = ""
}

func (d *Decoder) emit(content string) {
	if content != "" {
		d.ready = append(d.ready, content)
	}
}

func parseDelta(payload string) (string, bool) {
	var frame deltaFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return "", false
	}
	if len(frame.Choices) == 0 {
		return "", true
	}
	return frame.Choices[0].Delta.Content, true
}
