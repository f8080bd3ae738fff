package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

// CompressionConfig configures response compression.
type CompressionConfig struct {
	// MinSize is the smallest body, in bytes, that gets compressed.
	MinSize     int
	GzipLevel   int
	BrotliLevel int
}

// DefaultCompressionConfig compresses bodies of 1 KiB and more.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:     1024,
		GzipLevel:   gzip.DefaultCompression,
		BrotliLevel: 4,
	}
}

var compressibleContentTypes = []string{"application/json", "text/"}

// Compression encodes JSON and text responses with brotli or gzip, following Accept-Encoding.
// Bodies shorter than MinSize and responses that already carry a Content-Encoding are sent as is.
func Compression(cfg CompressionConfig) gin.HandlerFunc {
	def := DefaultCompressionConfig()
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if cfg.GzipLevel == 0 {
		cfg.GzipLevel = def.GzipLevel
	}
	if cfg.BrotliLevel <= 0 {
		cfg.BrotliLevel = def.BrotliLevel
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		encoding := negotiateEncoding(c.GetHeader("Accept-Encoding"))
		if encoding == "" {
			c.Next()
			return
		}
		appendVary(c.Writer.Header(), "Accept-Encoding")

		writer := &compressWriter{ResponseWriter: c.Writer, encoding: encoding, cfg: cfg}
		c.Writer = writer
		defer func() {
			_ = writer.Close()
			c.Writer = writer.ResponseWriter
		}()
		c.Next()
	}
}

// negotiateEncoding prefers brotli over gzip at equal quality.
func negotiateEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}
	qBr, hasBr := qualityForEncoding(acceptEncoding, encodingBrotli)
	qGzip, hasGzip := qualityForEncoding(acceptEncoding, encodingGzip)
	if qAny, hasAny := qualityForEncoding(acceptEncoding, "*"); hasAny {
		if !hasBr {
			qBr, hasBr = qAny, true
		}
		if !hasGzip {
			qGzip, hasGzip = qAny, true
		}
	}
	switch {
	case hasBr && qBr > 0 && (!hasGzip || qBr >= qGzip):
		return encodingBrotli
	case hasGzip && qGzip > 0:
		return encodingGzip
	default:
		return ""
	}
}

func qualityForEncoding(acceptEncoding, encoding string) (float64, bool) {
	for _, part := range strings.Split(acceptEncoding, ",") {
		sections := strings.Split(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(sections[0]), encoding) {
			continue
		}
		q := 1.0
		for _, section := range sections[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(section), "=")
			if !ok || !strings.EqualFold(key, "q") {
				continue
			}
			if parsed, err := strconv.ParseFloat(value, 64); err == nil {
				q = parsed
			}
		}
		return q, true
	}
	return 0, false
}

// compressWriter buffers the body until MinSize is reached, then decides once whether to
// compress. Status codes are recorded by the wrapped gin writer and sent with the first write.
type compressWriter struct {
	gin.ResponseWriter
	encoding string
	cfg      CompressionConfig

	buffer   bytes.Buffer
	decided  bool
	encoder  io.WriteCloser
	finished bool
}

func (w *compressWriter) Write(p []byte) (int, error) {
	if w.decided {
		if w.encoder != nil {
			if _, err := w.encoder.Write(p); err != nil {
				return 0, err
			}
			return len(p), nil
		}
		return w.ResponseWriter.Write(p)
	}
	w.buffer.Write(p)
	if w.buffer.Len() >= w.cfg.MinSize {
		if err := w.decide(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *compressWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *compressWriter) Flush() {
	if !w.decided {
		_ = w.decide()
	}
	if flusher, ok := w.encoder.(interface{ Flush() error }); ok {
		_ = flusher.Flush()
	}
	w.ResponseWriter.Flush()
}

func (w *compressWriter) decide() error {
	w.decided = true
	if w.shouldCompress() {
		header := w.Header()
		header.Del("Content-Length")
		header.Set("Content-Encoding", w.encoding)
		switch w.encoding {
		case encodingBrotli:
			w.encoder = brotli.NewWriterLevel(w.ResponseWriter, w.cfg.BrotliLevel)
		default:
			gz, err := gzip.NewWriterLevel(w.ResponseWriter, w.cfg.GzipLevel)
			if err != nil {
				return err
			}
			w.encoder = gz
		}
	}
	if w.buffer.Len() == 0 {
		return nil
	}
	_, err := w.Write(w.buffer.Bytes())
	w.buffer.Reset()
	return err
}

func (w *compressWriter) shouldCompress() bool {
	status := w.Status()
	if status == http.StatusNoContent || status == http.StatusNotModified || status < 200 {
		return false
	}
	if w.buffer.Len() < w.cfg.MinSize || w.buffer.Len() == 0 {
		return false
	}
	if w.Header().Get("Content-Encoding") != "" {
		return false
	}
	contentType := strings.ToLower(w.Header().Get("Content-Type"))
	for _, prefix := range compressibleContentTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// Close flushes the buffered body and terminates the compressed stream.
func (w *compressWriter) Close() error {
	if w.finished {
		return nil
	}
	w.finished = true
	if !w.decided {
		if err := w.decide(); err != nil {
			return err
		}
	}
	if w.encoder != nil {
		return w.encoder.Close()
	}
	return nil
}
