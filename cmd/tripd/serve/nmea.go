package serve

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nmeaLinesInput = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "input",
		Name:      "lines_input_total",
	}, []string{"source"})
	nmeaLinesBad = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "input",
		Name:      "lines_bad_checksum_total",
	}, []string{"source"})
	nmeaLinesEmpty = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "input",
		Name:      "lines_empty_total",
	}, []string{"source"})
	nmeaLinesNoChecksum = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "input",
		Name:      "lines_no_checksum_total",
	}, []string{"source"})
	nmeaLinesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "input",
		Name:      "lines_skipped_total",
	}, []string{"source"})
)

const inputReadTimeout = 15 * time.Second

func readTCPInto(c chan<- string, addr string) *lineReader {
	return &lineReader{
		open: func() (io.ReadCloser, error) {
			conn, err := net.DialTimeout("tcp", addr, inputReadTimeout)
			if err != nil {
				return nil, fmt.Errorf("reader: %w", err)
			}
			return conn, nil
		},
		name:        fmt.Sprintf("tcp/%s", addr),
		lines:       c,
		readTimeout: inputReadTimeout,
	}
}

func readUDPInto(c chan<- string, port int) *lineReader {
	return &lineReader{
		open: func() (io.ReadCloser, error) {
			conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
			if err != nil {
				return nil, fmt.Errorf("reader: %w", err)
			}
			return conn, nil
		},
		name:        fmt.Sprintf("udp/%d", port),
		lines:       c,
		readTimeout: inputReadTimeout,
	}
}

// readHTTPInto accepts NMEA lines as the bodies of HTTP POST requests,
// e.g. from a phone app forwarding its GPS.
func readHTTPInto(c chan<- string, port int) *lineReader {
	return &lineReader{
		open: func() (io.ReadCloser, error) { return httpReader(port) },
		name: fmt.Sprintf("http/%d", port),
		lines: c,
	}
}

type httpBodies struct {
	*io.PipeReader
	srv *http.Server
}

func (h *httpBodies) Close() error {
	_ = h.srv.Close()
	return h.PipeReader.Close()
}

func httpReader(port int) (io.ReadCloser, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}

	rd, wr := io.Pipe()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if _, err := io.Copy(wr, r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// Bodies may lack the final newline.
		_, _ = wr.Write([]byte("\n"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: inputReadTimeout}
	go func() {
		err := srv.Serve(l)
		_ = wr.CloseWithError(err)
	}()
	return &httpBodies{PipeReader: rd, srv: srv}, nil
}

func readSerialInto(c chan<- string, dev string) *lineReader {
	return &lineReader{
		open:  func() (io.ReadCloser, error) { return os.Open(dev) },
		name:  dev,
		lines: c,
	}
}

func linesInto(c chan<- string, r io.ReadCloser, name string) *lineReader {
	return &lineReader{
		open:  func() (io.ReadCloser, error) { return r, nil },
		name:  name,
		lines: c,
	}
}

// lineReader reads NMEA lines from a source and passes the ones with a
// valid checksum on. It returns when the source fails or ends, leaving
// the reconnect to the supervisor.
type lineReader struct {
	open        func() (io.ReadCloser, error)
	name        string
	lines       chan<- string
	readTimeout time.Duration
}

func (r *lineReader) String() string {
	return fmt.Sprintf("%s@%p", r.name, r)
}

func (r *lineReader) Serve(ctx context.Context) error {
	reader, err := r.open()
	if err != nil {
		return err
	}
	defer reader.Close()

	go func() {
		<-ctx.Done()
		_ = reader.Close()
	}()

	sc := bufio.NewScanner(reader)
	sc.Buffer(make([]byte, 0, 65536), 65536)

	nmeaLinesInput.WithLabelValues(r.name)
	nmeaLinesBad.WithLabelValues(r.name)
	nmeaLinesEmpty.WithLabelValues(r.name)
	nmeaLinesNoChecksum.WithLabelValues(r.name)
	nmeaLinesSkipped.WithLabelValues(r.name)

	if err := r.trySetDeadline(reader); err != nil {
		return err
	}

	for sc.Scan() {
		if err := r.trySetDeadline(reader); err != nil {
			return err
		}

		line := strings.TrimSpace(sc.Text())
		nmeaLinesInput.WithLabelValues(r.name).Inc()
		if line == "" {
			nmeaLinesEmpty.WithLabelValues(r.name).Inc()
			continue
		}
		// Only talker sentences carry positions; AIS and the rest is noise here.
		if line[0] != '$' {
			nmeaLinesSkipped.WithLabelValues(r.name).Inc()
			continue
		}
		idx := strings.LastIndexByte(line, '*')
		if idx == -1 {
			nmeaLinesNoChecksum.WithLabelValues(r.name).Inc()
			continue
		}
		if nmea.Checksum(line[1:idx]) != line[idx+1:] {
			nmeaLinesBad.WithLabelValues(r.name).Inc()
			continue
		}

		select {
		case r.lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (r *lineReader) trySetDeadline(v any) error {
	if r.readTimeout == 0 {
		return nil
	}
	type deadliner interface {
		SetReadDeadline(t time.Time) error
	}
	if rd, ok := v.(deadliner); ok {
		return rd.SetReadDeadline(time.Now().Add(r.readTimeout))
	}
	return nil
}
