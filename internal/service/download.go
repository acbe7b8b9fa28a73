// download.go — отдача файла клиенту: тип содержимого, Content-Disposition,
// поддержка Range-запросов (http.ServeContent) и метрики скачиваний.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/zero-server/internal/domain/apperr"
	"github.com/bigkaa/zero-server/internal/domain/model"
	"github.com/bigkaa/zero-server/internal/filestore"
)

// Варианты Content-Disposition.
const (
	// DispositionInline — показать в браузере (file/view).
	DispositionInline = "inline"
	// DispositionAttachment — сохранить как файл (file/download).
	DispositionAttachment = "attachment"
)

// sniffLen — сколько первых байт файла читается для определения типа.
const sniffLen = 512

// Prometheus-метрики скачиваний.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zs_downloads_total",
		Help: "Общее количество отдач файлов (по способу и статусу).",
	}, []string{"disposition", "status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zs_download_duration_seconds",
		Help:    "Длительность отдачи файла (от открытия до завершения streaming).",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zs_download_bytes_total",
		Help: "Общее количество переданных байт при отдаче файлов.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zs_active_downloads",
		Help: "Количество активных (in-progress) отдач файлов.",
	})
)

// Serve отдаёт файл записи rec в w.
//
// Ошибки открытия файла возвращаются до записи заголовков, чтобы вызывающий
// код мог ответить конвертом ошибки. После начала streaming ошибки только логируются.
func (s *FileService) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, rec *model.FileRecord, disposition string) error {
	start := time.Now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	f, info, err := s.Open(ctx, rec)
	if err != nil {
		downloadsTotal.WithLabelValues(disposition, openStatus(err)).Inc()
		return err
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		downloadsTotal.WithLabelValues(disposition, "io_error").Inc()
		return apperr.ErrFileReadWrite.With(err.Error())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		downloadsTotal.WithLabelValues(disposition, "io_error").Inc()
		return apperr.ErrFileReadWrite.With(err.Error())
	}

	w.Header().Set("Content-Type", ContentType(head[:n], rec))
	w.Header().Set("Content-Disposition", ContentDisposition(disposition, rec.Origin))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	cw := &countingWriter{ResponseWriter: w}
	http.ServeContent(cw, r, "", info.ModTime(), f)

	duration := time.Since(start)
	downloadsTotal.WithLabelValues(disposition, "success").Inc()
	downloadDuration.Observe(duration.Seconds())
	downloadBytesTotal.Add(float64(cw.written))

	s.logger.Debug("Файл отдан",
		slog.String("file_id", rec.ID),
		slog.String("disposition", disposition),
		slog.Int64("bytes", cw.written),
		slog.Duration("duration", duration),
	)

	return nil
}

// openStatus — лейбл метрики для ошибки открытия файла.
func openStatus(err error) string {
	if errors.Is(err, apperr.ErrFileNotExist) {
		return "not_found"
	}
	return "io_error"
}

// ContentType определяет MIME-тип по первым байтам файла. Если содержимое
// не распознано, используется тип из метаданных, затем application/octet-stream.
func ContentType(head []byte, rec *model.FileRecord) string {
	t := filestore.DetectType(head, rec.Origin)
	if t == "application/octet-stream" && rec.Type != "" {
		return rec.Type
	}
	return t
}

// ContentDisposition строит заголовок с исходным именем файла в двух формах:
// filename="…" для старых клиентов и filename*=UTF-8''… (RFC 5987).
// Имя кодируется процентами, поэтому обе формы безопасны для не-ASCII.
func ContentDisposition(disposition, name string) string {
	if disposition != DispositionInline {
		disposition = DispositionAttachment
	}
	enc := encodeRFC5987(name)
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, disposition, enc, enc)
}

// encodeRFC5987 кодирует строку как value-chars RFC 5987:
// attr-char остаются как есть, остальные байты UTF-8 — %XX.
func encodeRFC5987(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

// isAttrChar — attr-char из RFC 5987.
func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

// countingWriter считает байты тела ответа.
type countingWriter struct {
	http.ResponseWriter
	written int64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}
