// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hook

import (
	"bufio"
	"errors"
	"io"
	"log/slog"

	nhlog "github.com/tombee/nodehook/internal/log"
)

// maxLineLength bounds how much of one output line is buffered. Longer
// lines are forwarded in chunks of this size.
const maxLineLength = 64 * 1024

// Flusher is implemented by sinks that buffer. Flush is called after
// every line so the log stays current while the hook runs.
type Flusher interface {
	Flush() error
}

// copyLines forwards r to sink one line at a time until r reports EOF or
// an error. A trailing partial line is forwarded too, and a line longer
// than maxLineLength is forwarded in pieces. Once the sink
// fails, the rest of the output is drained and dropped so the hook never
// blocks on a full pipe.
func copyLines(sink io.Writer, r io.Reader, logger *slog.Logger) {
	if sink == nil {
		sink = io.Discard
	}
	flusher, _ := sink.(Flusher)

	br := bufio.NewReaderSize(r, maxLineLength)
	broken := false
	for {
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			err = nil
		}
		if len(line) > 0 && !broken {
			if werr := writeLine(sink, flusher, line); werr != nil {
				logger.Warn("log sink failed, discarding remaining hook output", nhlog.Error(werr))
				broken = true
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logger.Debug("hook output stream ended", nhlog.Error(err))
			}
			return
		}
	}
}

func writeLine(sink io.Writer, flusher Flusher, line []byte) error {
	if _, err := sink.Write(line); err != nil {
		return err
	}
	if flusher != nil {
		return flusher.Flush()
	}
	return nil
}
