package openaicompat

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const doneMarker = "[DONE]"

// sseStream reads `data:` frames of a streamed chat completion.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

func (s *sseStream) Recv() (string, error) {
	for !s.done {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", wrapModelError("openai stream", err)
			}
			return "", wrapModelError("openai stream", io.ErrUnexpectedEOF)
		}
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// comments, event names and blank separators
			continue
		}
		data = strings.TrimSpace(data)
		if data == doneMarker {
			s.done = true
			break
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", wrapModelError("openai stream", fmt.Errorf("decode stream frame: %w", err))
		}
		if chunk.Error != nil {
			return "", wrapModelError("openai stream", errors.New(chunk.Error.Message))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			return token, nil
		}
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
