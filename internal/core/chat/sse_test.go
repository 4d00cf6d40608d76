package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pieceReader returns one piece per Read call.
type pieceReader struct {
	pieces []string
}

func (p *pieceReader) Read(b []byte) (int, error) {
	if len(p.pieces) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.pieces[0])
	p.pieces[0] = p.pieces[0][n:]
	if p.pieces[0] == "" {
		p.pieces = p.pieces[1:]
	}
	return n, nil
}

func collect(t *testing.T, d *Decoder) []string {
	t.Helper()
	var out []string
	for {
		delta, err := d.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, delta)
	}
}

func frame(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n"
}

func TestDecoderBasicStream(t *testing.T) {
	body := ": keep-alive\n\n" + frame("Hel") + "\n" + frame("lo") + "event: ping\n" + "data: [DONE]\n" + frame("ignored")
	got := collect(t, NewDecoder(strings.NewReader(body)))
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestDecoderReassemblesSplitRead(t *testing.T) {
	second := frame(" world")
	r := &pieceReader{pieces: []string{
		frame("Hel") + second[:17],
		second[17:] + frame("!") + "data: [DONE]\n",
	}}
	got := collect(t, NewDecoder(r))
	assert.Equal(t, "Hel world!", strings.Join(got, ""))
}

func TestDecoderOneByteAtATime(t *testing.T) {
	body := frame("a") + frame("é") + frame("c") + "data: [DONE]\n"
	got := collect(t, NewDecoder(iotest.OneByteReader(strings.NewReader(body))))
	assert.Equal(t, []string{"a", "é", "c"}, got)
}

func TestDecoderRetriesBrokenLineJoinedWithNext(t *testing.T) {
	body := `data: {"choices":[{"delta":{"con` + "\n" + `tent":"joined"}}]}` + "\n" + frame("after") + "data: [DONE]\n"
	got := collect(t, NewDecoder(strings.NewReader(body)))
	assert.Equal(t, []string{"joined", "after"}, got)
}

func TestDecoderDropsGarbageButKeepsNextLine(t *testing.T) {
	body := "data: {not json\n" + frame("kept") + "data: [DONE]\n"
	got := collect(t, NewDecoder(strings.NewReader(body)))
	assert.Equal(t, []string{"kept"}, got)
}

func TestDecoderEOFWithoutDone(t *testing.T) {
	body := frame("one") + `data: {"choices":[{"delta":{"content":"two"}}]}`
	got := collect(t, NewDecoder(strings.NewReader(body)))
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestDecoderHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDecoder(strings.NewReader(frame("x") + frame("y")))

	delta, err := d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", delta)
	delta, err = d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "y", delta)

	cancel()
	_, err = d.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecoderSurfacesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	d := NewDecoder(io.MultiReader(strings.NewReader(frame("x")), iotest.ErrReader(boom)))

	delta, err := d.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", delta)
	_, err = d.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}
