package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// requestBodyMaxSize bounds how much of a request body handlers will read.
const requestBodyMaxSize = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// RequestBodyMiddleware prepares request bodies for the JSON handlers:
// gzip-encoded payloads are transparently decompressed, and every body is
// capped at requestBodyMaxSize. Requests that declare an oversized body are
// rejected up front with 413; bodies that only reveal their size while
// streaming fail the handler's decode instead. Malformed gzip payloads get
// a 400 response.
func RequestBodyMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > requestBodyMaxSize {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			}

			if hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				body := req.Body
				gr, err := gzip.NewReader(body)
				if err != nil {
					_ = body.Close()
					return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
				}
				req.Body = &gzipReadCloser{Reader: gr, body: body}
				req.ContentLength = -1
				req.Header.Del(echo.HeaderContentEncoding)
				req.Header.Del(echo.HeaderContentLength)
			}

			req.Body = &cappedBody{rc: req.Body, remaining: requestBodyMaxSize + 1}
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	var err error
	if g.Reader != nil {
		err = g.Reader.Close()
	}
	if g.body != nil {
		if cerr := g.body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// cappedBody fails reads once more than requestBodyMaxSize bytes have been
// produced. The one byte of slack lets a body of exactly the cap stream
// through to EOF before the sentinel trips.
type cappedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining <= 0 {
		return n, errBodyTooLarge
	}
	return n, err
}

func (b *cappedBody) Close() error {
	return b.rc.Close()
}
