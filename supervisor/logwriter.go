package supervisor

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// lineLogger is an io.Writer that logs each complete line written to it.
// The service's stdout and stderr are piped through one each so its output ends up in the launcher's log.
type lineLogger struct {
	m      sync.Mutex
	log    *zap.SugaredLogger
	stream string
	buf    bytes.Buffer
}

func newLineLogger(log *zap.SugaredLogger, stream string) *lineLogger {
	return &lineLogger{log: log, stream: stream}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.m.Lock()
	defer w.m.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush logs whatever is left after the last newline.
func (w *lineLogger) Flush() {
	w.m.Lock()
	defer w.m.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineLogger) emit(line string) {
	w.log.Infow(line, "Stream", w.stream)
}
