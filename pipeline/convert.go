package pipeline

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/trace"
)

// Parse writes every record of the binary trace at path to w in the text
// form.
func Parse(path string, w io.Writer, log *zap.Logger) error {
	log = logging.Or(log)
	recs, err := trace.ReadFile(path, func(err error) {
		log.Warn("skipping undecodable record", zap.String("trace", path), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return trace.WriteText(w, recs)
}

// Convert reads the text trace at path and writes its binary form to
// "<path>_binary", returning that path.
func Convert(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	recs, err := trace.ReadText(f)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	out := path + "_binary"
	if err := trace.WriteFile(out, recs); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}
